package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/widgetchat-backend/internal/data/repos"
	"github.com/yungbote/widgetchat-backend/internal/data/repos/testutil"
	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/inference"
	"github.com/yungbote/widgetchat-backend/internal/inference/client"
	chatmod "github.com/yungbote/widgetchat-backend/internal/modules/chat"
	"github.com/yungbote/widgetchat-backend/internal/platform/ctxutil"
	"github.com/yungbote/widgetchat-backend/internal/realtime"
	"github.com/yungbote/widgetchat-backend/internal/services"
	"github.com/yungbote/widgetchat-backend/internal/statuscache"
)

type fixture struct {
	router *gin.Engine
	hub    *realtime.SSEHub
	tenant *types.Tenant
	bot    *types.Chatbot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()

	hub := realtime.NewSSEHub(log)
	jobRuns := repos.NewJobRunRepo(db, log)
	uc := chatmod.New(chatmod.UsecasesDeps{
		DB:            db,
		Log:           log,
		Engine:        client.NewMock(),
		Tenants:       repos.NewTenantRepo(db, log),
		Chatbots:      repos.NewChatbotRepo(db, log),
		Conversations: repos.NewConversationRepo(db, log),
		Messages:      repos.NewMessageRepo(db, log),
		JobRuns:       jobRuns,
		Jobs:          services.NewJobService(db, log, jobRuns, nil),
		Notify:        services.NewChatNotifier(&services.HubEmitter{Hub: hub}),
		Tracker:       statuscache.NewTracker(statuscache.NewMemoryStore(), time.Minute, log),
	})

	f := &fixture{hub: hub}
	f.tenant = testutil.SeedTenant(t, ctx, db, 100)
	f.bot = testutil.SeedChatbot(t, ctx, db, f.tenant.ID, "Be concise")

	public := NewPublicChatHandler(log, uc, hub, nil, nil)
	tenantAPI := NewChatHandler(uc, nil)
	health := NewHealthHandler(db, nil, inference.NewHealthProbe(client.NewMock(), statuscache.NewMemoryStore(), time.Minute, log))

	r := gin.New()
	r.GET("/readyz", health.Ready)
	pub := r.Group("/api/public/chat/:widget_id")
	pub.POST("", public.SendMessage)
	pub.GET("/response/:session_id", public.Response)
	pub.GET("/history/:session_id", public.History)
	pub.POST("/end/:session_id", public.EndSession)
	pub.GET("/info", public.Info)
	pub.GET("/ws/:session_id", public.WebSocket)

	api := r.Group("/api/chat")
	api.Use(func(c *gin.Context) {
		if raw := c.GetHeader("X-Test-Tenant"); raw != "" {
			td := &ctxutil.TenantData{TenantID: uuid.MustParse(raw)}
			c.Request = c.Request.WithContext(ctxutil.WithTenantData(c.Request.Context(), td))
		}
		c.Next()
	})
	api.POST("/message", tenantAPI.SendMessage)
	api.GET("/status", tenantAPI.Status)
	api.GET("/conversations/:id/messages", tenantAPI.ListMessages)

	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, tenant *uuid.UUID) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenant != nil {
		req.Header.Set("X-Test-Tenant", tenant.String())
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestPublicSubmitGeneratesSessionAndReportsProcessing(t *testing.T) {
	f := newFixture(t)
	base := "/api/public/chat/" + f.bot.WidgetID

	code, body := f.do(t, http.MethodPost, base, map[string]any{"message": "hello"}, nil)
	require.Equal(t, http.StatusAccepted, code)
	require.Equal(t, "processing", body["status"])
	sessionID, _ := body["session_id"].(string)
	_, err := uuid.Parse(sessionID)
	require.NoError(t, err)
	require.NotEmpty(t, body["conversation_id"])
	require.NotContains(t, body, "JobID")

	code, body = f.do(t, http.MethodGet, base+"/response/"+sessionID, nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "processing", body["status"])
	require.Equal(t, "cache", body["source"])

	code, body = f.do(t, http.MethodGet, base+"/history/"+sessionID, nil, nil)
	require.Equal(t, http.StatusOK, code)
	msgs, _ := body["messages"].([]any)
	require.Len(t, msgs, 1)

	code, body = f.do(t, http.MethodPost, base+"/end/"+sessionID, nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["ended"])

	code, body = f.do(t, http.MethodGet, base+"/response/"+sessionID, nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "store", body["source"])
	require.Equal(t, "queued", body["status"])
}

func TestPublicSubmitErrors(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/public/chat/"+f.bot.WidgetID, map[string]any{"message": "   "}, nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "validation_error", errorCode(body))

	code, body = f.do(t, http.MethodPost, "/api/public/chat/"+f.bot.WidgetID, map[string]any{"message": strings.Repeat("x", 2001)}, nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "validation_error", errorCode(body))

	code, body = f.do(t, http.MethodPost, "/api/public/chat/widget_missing", map[string]any{"message": "hi"}, nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "not_found", errorCode(body))

	code, _ = f.do(t, http.MethodGet, "/api/public/chat/widget_missing/info", nil, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestPublicInfo(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/public/chat/"+f.bot.WidgetID+"/info", nil, nil)
	require.Equal(t, http.StatusOK, code)
	info, _ := body["chatbot"].(map[string]any)
	require.Equal(t, f.bot.WidgetID, info["widget_id"])
	require.Equal(t, f.bot.Name, info["name"])
}

func TestTenantAPIScopesByTenant(t *testing.T) {
	f := newFixture(t)
	owner := f.tenant.ID
	other := uuid.New()

	code, _ := f.do(t, http.MethodPost, "/api/chat/message", map[string]any{"chatbot_id": f.bot.ID.String(), "message": "hi", "session_id": "S1"}, nil)
	require.Equal(t, http.StatusUnauthorized, code)

	code, body := f.do(t, http.MethodPost, "/api/chat/message", map[string]any{"chatbot_id": f.bot.ID.String(), "message": "hi", "session_id": "S1"}, &other)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "not_found", errorCode(body))

	code, body = f.do(t, http.MethodPost, "/api/chat/message", map[string]any{"chatbot_id": f.bot.ID.String(), "message": "hi", "session_id": "S1"}, &owner)
	require.Equal(t, http.StatusAccepted, code)
	convID, _ := body["conversation_id"].(string)

	code, body = f.do(t, http.MethodGet, "/api/chat/status?session_id=S1", nil, &owner)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "validation_error", errorCode(body))

	code, body = f.do(t, http.MethodGet, "/api/chat/status?session_id=S1&chatbot_id="+f.bot.ID.String(), nil, &owner)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "processing", body["status"])

	code, _ = f.do(t, http.MethodGet, "/api/chat/status?session_id=S1&chatbot_id="+f.bot.ID.String(), nil, &other)
	require.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodGet, "/api/chat/conversations/"+convID+"/messages", nil, &owner)
	require.Equal(t, http.StatusOK, code)
	msgs, _ := body["messages"].([]any)
	require.Len(t, msgs, 1)

	code, _ = f.do(t, http.MethodGet, "/api/chat/conversations/"+convID+"/messages", nil, &other)
	require.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodGet, "/api/chat/conversations/not-a-uuid/messages", nil, &owner)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestWebSocketReceivesAssistantEvents(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/public/chat/" + f.bot.WidgetID + "/ws/S9"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	channel := realtime.SessionChannel("S9")
	require.Eventually(t, func() bool { return f.hub.Subscribers(channel) == 1 }, 2*time.Second, 10*time.Millisecond)

	f.hub.Broadcast(realtime.SSEMessage{Channel: channel, Event: realtime.SSEEventMessageReceived,
		Data: map[string]any{"message": map[string]any{"role": "user", "content": "hi"}}})
	f.hub.Broadcast(realtime.SSEMessage{Channel: channel, Event: realtime.SSEEventMessageSent,
		Data: map[string]any{"message": map[string]any{"role": "assistant", "content": "hello"}}})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got realtime.SSEMessage
	require.NoError(t, ws.ReadJSON(&got))
	require.Equal(t, realtime.SSEEventMessageSent, got.Event)
}

func TestReadyReportsChecks(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["ready"])
	checks, _ := body["checks"].(map[string]any)
	require.Equal(t, "ok", checks["database"])
	inf, _ := checks["inference"].(map[string]any)
	require.Equal(t, true, inf["healthy"])
}
