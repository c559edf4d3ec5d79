package bus

import (
	"time"
)

// Origin says which entry surface produced an inbound message. It is a
// routing hint carried for logging; every origin goes through the same
// serialized turn queue.
type Origin string

const (
	OriginInteractive Origin = "interactive"
	OriginWebhook     Origin = "webhook"
	OriginChat        Origin = "chat"
)

// ChannelNotify is the pseudo-channel for replies that should be delivered
// as background notifications rather than to a specific chat.
const ChannelNotify = "notify"

// InboundMessage is a user-authored (or synthetic) message arriving from an
// entry surface.
type InboundMessage struct {
	Channel   string    `json:"channel"`
	SenderID  string    `json:"sender_id"`
	ChatID    string    `json:"chat_id"`
	Content   string    `json:"content"`
	Origin    Origin    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// OutboundMessage is a reply to deliver back to a chat surface.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}
