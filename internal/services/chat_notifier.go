package services

import (
	"context"

	types "github.com/yungbote/widgetchat-backend/internal/domain"
	"github.com/yungbote/widgetchat-backend/internal/realtime"
)

// ChatNotifier publishes message events on the session's channel. Delivery is
// at-most-once; with no subscriber the event is dropped.
type ChatNotifier interface {
	MessageReceived(ctx context.Context, conv *types.Conversation, msg *types.Message) types.MessageEvent
	MessageSent(ctx context.Context, conv *types.Conversation, msg *types.Message) types.MessageEvent
}

type chatNotifier struct {
	emit SSEEmitter
}

func NewChatNotifier(emit SSEEmitter) ChatNotifier {
	return &chatNotifier{emit: emit}
}

func (n *chatNotifier) MessageReceived(ctx context.Context, conv *types.Conversation, msg *types.Message) types.MessageEvent {
	return n.publish(ctx, realtime.SSEEventMessageReceived, conv, msg)
}

func (n *chatNotifier) MessageSent(ctx context.Context, conv *types.Conversation, msg *types.Message) types.MessageEvent {
	return n.publish(ctx, realtime.SSEEventMessageSent, conv, msg)
}

func (n *chatNotifier) publish(ctx context.Context, event realtime.SSEEvent, conv *types.Conversation, msg *types.Message) types.MessageEvent {
	ev := types.NewMessageEvent(conv, msg)
	if n == nil || n.emit == nil || conv == nil {
		return ev
	}
	channel := realtime.SessionChannel(conv.SessionID)
	if channel == "" {
		return ev
	}
	n.emit.Emit(ctx, realtime.SSEMessage{
		Channel: channel,
		Event:   event,
		Data:    ev,
	})
	return ev
}
