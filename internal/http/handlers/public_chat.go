package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/yungbote/widgetchat-backend/internal/http/response"
	chatmod "github.com/yungbote/widgetchat-backend/internal/modules/chat"
	"github.com/yungbote/widgetchat-backend/internal/observability"
	"github.com/yungbote/widgetchat-backend/internal/platform/apierr"
	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
	"github.com/yungbote/widgetchat-backend/internal/realtime"
)

// PublicChatHandler serves the embeddable widget. Every route is addressed by
// widget id and, past the first message, by the browser's session id.
type PublicChatHandler struct {
	log      *logger.Logger
	chat     chatmod.Usecases
	hub      *realtime.SSEHub
	upgrader *websocket.Upgrader
	metrics  *observability.Metrics
}

func NewPublicChatHandler(log *logger.Logger, chat chatmod.Usecases, hub *realtime.SSEHub, upgrader *websocket.Upgrader, metrics *observability.Metrics) *PublicChatHandler {
	if upgrader == nil {
		upgrader = realtime.NewUpgrader(nil)
	}
	return &PublicChatHandler{
		log:      log.With("handler", "PublicChatHandler"),
		chat:     chat,
		hub:      hub,
		upgrader: upgrader,
		metrics:  metrics,
	}
}

type publicMessageReq struct {
	Message        string `json:"message"`
	Text           string `json:"text"`
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
}

// POST /api/public/chat/:widget_id
func (h *PublicChatHandler) SendMessage(c *gin.Context) {
	var req publicMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	convID, err := parseUUID(req.ConversationID, "conversation_id", false)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	text := req.Message
	if text == "" {
		text = req.Text
	}
	out, err := h.chat.Submit(c.Request.Context(), chatmod.IngestInput{
		WidgetID:       c.Param("widget_id"),
		ConversationID: convID,
		SessionID:      sessionID,
		Text:           text,
		IPAddress:      c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
	})
	recordIngest(h.metrics, err)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondAccepted(c, out)
}

// GET /api/public/chat/:widget_id/response/:session_id
func (h *PublicChatHandler) Response(c *gin.Context) {
	bot, _, err := h.chat.PublicChatbot(c.Request.Context(), c.Param("widget_id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	out, err := h.chat.Status(c.Request.Context(), chatmod.StatusInput{
		ChatbotID: bot.ID,
		SessionID: c.Param("session_id"),
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/public/chat/:widget_id/history/:session_id
func (h *PublicChatHandler) History(c *gin.Context) {
	bot, _, err := h.chat.PublicChatbot(c.Request.Context(), c.Param("widget_id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	out, err := h.chat.History(c.Request.Context(), chatmod.HistoryInput{
		ChatbotID: bot.ID,
		SessionID: c.Param("session_id"),
		AfterSeq:  queryInt64(c, "after_seq", 0),
		Limit:     int(queryInt64(c, "limit", 50)),
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// POST /api/public/chat/:widget_id/end/:session_id
func (h *PublicChatHandler) EndSession(c *gin.Context) {
	bot, _, err := h.chat.PublicChatbot(c.Request.Context(), c.Param("widget_id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	ended, err := h.chat.EndSession(c.Request.Context(), chatmod.EndSessionInput{
		ChatbotID: bot.ID,
		SessionID: c.Param("session_id"),
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"ended": ended})
}

// GET /api/public/chat/:widget_id/info
func (h *PublicChatHandler) Info(c *gin.Context) {
	_, info, err := h.chat.PublicChatbot(c.Request.Context(), c.Param("widget_id"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chatbot": info})
}

// subscriber validates the widget and session and registers a hub client on
// the session channel. ?events=all also delivers user-message acknowledgements.
func (h *PublicChatHandler) subscriber(c *gin.Context) (*realtime.SSEClient, bool) {
	if _, _, err := h.chat.PublicChatbot(c.Request.Context(), c.Param("widget_id")); err != nil {
		response.RespondAPIError(c, err)
		return nil, false
	}
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		response.RespondAPIError(c, apierr.Validation("session_id is required"))
		return nil, false
	}
	var filter realtime.Filter = realtime.AssistantOnly
	if c.Query("events") == "all" {
		filter = nil
	}
	client := h.hub.NewSSEClient(sessionID, filter)
	client.Logger = h.log.With("SSEClientID", client.ID)
	h.hub.AddChannel(client, realtime.SessionChannel(sessionID))
	return client, true
}

// GET /api/public/chat/:widget_id/stream/:session_id
func (h *PublicChatHandler) Stream(c *gin.Context) {
	client, ok := h.subscriber(c)
	if !ok {
		return
	}
	defer h.hub.CloseClient(client)
	h.log.Debug("SSE stream open", "session_id", client.SessionID)
	h.hub.ServeHTTP(c.Writer, c.Request, client)
}

// GET /api/public/chat/:widget_id/ws/:session_id
func (h *PublicChatHandler) WebSocket(c *gin.Context) {
	client, ok := h.subscriber(c)
	if !ok {
		return
	}
	defer h.hub.CloseClient(client)
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	h.hub.ServeWebSocket(ws, client)
}
