package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/widgetchat-backend/internal/platform/ctxutil"
)

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
	headerSessionID = "X-Session-Id"
)

// AttachTraceContext puts request/trace ids and the widget session the request
// addresses on the context, the active span and the response headers.
// Session ids come from the route, then the X-Session-Id header.
func AttachTraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())

		reqID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if reqID == "" {
			reqID = uuid.New().String()
		}
		traceID := strings.TrimSpace(c.GetHeader(headerTraceID))
		if traceID == "" && span.SpanContext().HasTraceID() {
			traceID = span.SpanContext().TraceID().String()
		}
		if traceID == "" {
			traceID = uuid.New().String()
		}

		td := &ctxutil.TraceData{
			TraceID:   traceID,
			RequestID: reqID,
			WidgetID:  strings.TrimSpace(c.Param("widget_id")),
			SessionID: strings.TrimSpace(c.Param("session_id")),
		}
		if td.SessionID == "" {
			td.SessionID = strings.TrimSpace(c.GetHeader(headerSessionID))
		}

		attrs := []attribute.KeyValue{attribute.String("request.id", reqID)}
		if td.WidgetID != "" {
			attrs = append(attrs, attribute.String("widget.id", td.WidgetID))
			c.Set("widget_id", td.WidgetID)
		}
		if td.SessionID != "" {
			attrs = append(attrs, attribute.String("chat.session_id", td.SessionID))
			c.Set("session_id", td.SessionID)
		}
		span.SetAttributes(attrs...)

		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), td))
		c.Set("trace_id", traceID)
		c.Set("request_id", reqID)
		c.Writer.Header().Set(headerTraceID, traceID)
		c.Writer.Header().Set(headerRequestID, reqID)
		c.Next()
	}
}
