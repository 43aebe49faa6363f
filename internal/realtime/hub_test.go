package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/widgetchat-backend/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func recvMessage(t *testing.T, ch <-chan SSEMessage, timeout time.Duration) SSEMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for SSE message")
	}
	return SSEMessage{}
}

func assistantPayload(role, content string) map[string]any {
	return map[string]any{
		"message":      map[string]any{"id": "m1", "role": role, "content": content},
		"conversation": map[string]any{"id": "c1", "session_id": "S1"},
	}
}

func TestSessionChannel(t *testing.T) {
	require.Equal(t, "conversation.S1", SessionChannel("S1"))
	require.Equal(t, "", SessionChannel("  "))
}

func TestHubBroadcastOnlyReachesSessionSubscribers(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))

	a := hub.NewSSEClient("S1", nil)
	b := hub.NewSSEClient("S1", nil)
	other := hub.NewSSEClient("S2", nil)
	hub.AddChannel(a, SessionChannel("S1"))
	hub.AddChannel(b, SessionChannel("S1"))
	hub.AddChannel(other, SessionChannel("S2"))
	require.Equal(t, 2, hub.Subscribers(SessionChannel("S1")))

	n := hub.Broadcast(SSEMessage{Channel: SessionChannel("S1"), Event: SSEEventMessageSent, Data: assistantPayload("assistant", "hi")})
	require.Equal(t, 2, n)
	require.Equal(t, SSEEventMessageSent, recvMessage(t, a.Outbound, time.Second).Event)
	require.Equal(t, SSEEventMessageSent, recvMessage(t, b.Outbound, time.Second).Event)
	require.Len(t, other.Outbound, 0)

	hub.CloseClient(a)
	hub.CloseClient(a)
	require.Equal(t, 1, hub.Subscribers(SessionChannel("S1")))
}

func TestHubDropsWithoutSubscribers(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	require.Zero(t, hub.Broadcast(SSEMessage{Channel: SessionChannel("nobody"), Event: SSEEventMessageSent}))

	// A late subscriber does not see earlier events.
	c := hub.NewSSEClient("nobody", nil)
	hub.AddChannel(c, SessionChannel("nobody"))
	require.Len(t, c.Outbound, 0)
}

func TestHubBroadcastNeverBlocks(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	c := hub.NewSSEClient("S1", nil)
	hub.AddChannel(c, SessionChannel("S1"))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			hub.Broadcast(SSEMessage{Channel: SessionChannel("S1"), Event: SSEEventMessageSent})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("broadcast blocked on a slow client")
	}
	require.Len(t, c.Outbound, cap(c.Outbound))
}

func TestAssistantOnlyFilter(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	c := hub.NewSSEClient("S1", AssistantOnly)
	hub.AddChannel(c, SessionChannel("S1"))

	hub.Broadcast(SSEMessage{Channel: SessionChannel("S1"), Event: SSEEventMessageReceived, Data: assistantPayload("user", "hello")})
	hub.Broadcast(SSEMessage{Channel: SessionChannel("S1"), Event: SSEEventMessageSent, Data: assistantPayload("assistant", "hi")})

	got := recvMessage(t, c.Outbound, time.Second)
	require.Equal(t, "assistant", MessageRole(got.Data))
	require.Len(t, c.Outbound, 0)

	raw, _ := json.Marshal(assistantPayload("assistant", "x"))
	require.Equal(t, "assistant", MessageRole(json.RawMessage(raw)))
	require.Equal(t, "", MessageRole("garbage"))
}

func TestHubServeHTTPStreamsEvents(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	c := hub.NewSSEClient("S1", nil)
	hub.AddChannel(c, SessionChannel("S1"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeHTTP(w, r, c)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	hub.Broadcast(SSEMessage{Channel: SessionChannel("S1"), Event: SSEEventMessageSent, Data: assistantPayload("assistant", "hi")})

	reader := bufio.NewReader(resp.Body)
	var dataLine string
	for dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	var msg SSEMessage
	require.NoError(t, json.Unmarshal([]byte(dataLine), &msg))
	require.Equal(t, SSEEventMessageSent, msg.Event)
	require.Equal(t, "assistant", MessageRole(msg.Data))
	hub.CloseClient(c)
}

func TestHubServeWebSocket(t *testing.T) {
	hub := NewSSEHub(mustTestLogger(t))
	c := hub.NewSSEClient("S1", AssistantOnly)
	hub.AddChannel(c, SessionChannel("S1"))
	upgrader := NewUpgrader(nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.ServeWebSocket(ws, c)
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	hub.Broadcast(SSEMessage{Channel: SessionChannel("S1"), Event: SSEEventMessageSent, Data: assistantPayload("assistant", "hi")})

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := ws.ReadMessage()
	require.NoError(t, err)
	var msg SSEMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	require.Equal(t, SSEEventMessageSent, msg.Event)
	hub.CloseClient(c)
}
