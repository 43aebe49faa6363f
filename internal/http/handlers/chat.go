package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/widgetchat-backend/internal/http/response"
	chatmod "github.com/yungbote/widgetchat-backend/internal/modules/chat"
	"github.com/yungbote/widgetchat-backend/internal/observability"
	"github.com/yungbote/widgetchat-backend/internal/platform/apierr"
	"github.com/yungbote/widgetchat-backend/internal/platform/ctxutil"
)

// ChatHandler serves the authenticated tenant API.
type ChatHandler struct {
	chat    chatmod.Usecases
	metrics *observability.Metrics
}

func NewChatHandler(chat chatmod.Usecases, metrics *observability.Metrics) *ChatHandler {
	return &ChatHandler{chat: chat, metrics: metrics}
}

type sendMessageReq struct {
	ChatbotID      string `json:"chatbot_id"`
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id"`
	Message        string `json:"message"`
	Text           string `json:"text"`
}

func (r sendMessageReq) text() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Text
}

// POST /api/chat/message
func (h *ChatHandler) SendMessage(c *gin.Context) {
	td := ctxutil.GetTenantData(c.Request.Context())
	if td == nil {
		response.RespondAPIError(c, apierr.Unauthorized("not authenticated"))
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	chatbotID, err := parseUUID(req.ChatbotID, "chatbot_id", true)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	convID, err := parseUUID(req.ConversationID, "conversation_id", false)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	out, err := h.chat.Submit(c.Request.Context(), chatmod.IngestInput{
		TenantID:       td.TenantID,
		ChatbotID:      chatbotID,
		ConversationID: convID,
		SessionID:      req.SessionID,
		Text:           req.text(),
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

// GET /api/chat/status?chatbot_id=&session_id=
func (h *ChatHandler) Status(c *gin.Context) {
	td := ctxutil.GetTenantData(c.Request.Context())
	if td == nil {
		response.RespondAPIError(c, apierr.Unauthorized("not authenticated"))
		return
	}
	chatbotID, err := parseUUID(c.Query("chatbot_id"), "chatbot_id", true)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	out, err := h.chat.Status(c.Request.Context(), chatmod.StatusInput{
		TenantID:  td.TenantID,
		ChatbotID: chatbotID,
		SessionID: c.Query("session_id"),
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/chat/conversations/:id/messages?after_seq=&limit=
func (h *ChatHandler) ListMessages(c *gin.Context) {
	td := ctxutil.GetTenantData(c.Request.Context())
	if td == nil {
		response.RespondAPIError(c, apierr.Unauthorized("not authenticated"))
		return
	}
	convID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_conversation_id", err)
		return
	}
	out, err := h.chat.History(c.Request.Context(), chatmod.HistoryInput{
		TenantID:       td.TenantID,
		ConversationID: convID,
		AfterSeq:       queryInt64(c, "after_seq", 0),
		Limit:          int(queryInt64(c, "limit", 50)),
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondOK(c, out)
}

func parseUUID(raw, field string, required bool) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return uuid.Nil, apierr.Validation("%s is required", field)
		}
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apierr.Validation("invalid %s", field)
	}
	return id, nil
}

func queryInt64(c *gin.Context, key string, def int64) int64 {
	if v := strings.TrimSpace(c.Query(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func recordIngest(m *observability.Metrics, err error) {
	switch e, ok := apierr.As(err); {
	case err == nil:
		m.IncIngest("accepted")
	case ok:
		m.IncIngest(e.Code)
	default:
		m.IncIngest("error")
	}
}
