package channels

import (
	"time"

	"github.com/dootlabs/doot/pkg/bus"
)

// Channel is the interface for chat surfaces.
type Channel interface {
	Start() error
	Stop() error
	Send(msg bus.OutboundMessage) error
	Name() string
}

// BaseChannel provides the allow-list check and inbound publishing shared by
// channel implementations.
type BaseChannel struct {
	Bus       *bus.MessageBus
	AllowFrom []string
}

// IsAllowed checks if a sender may use this bot. An empty allow-list admits
// everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.AllowFrom) == 0 {
		return true
	}
	for _, allowed := range c.AllowFrom {
		if allowed == senderID {
			return true
		}
	}
	return false
}

// HandleMessage publishes an incoming platform message to the bus. The turn
// itself runs on the serialized consumer, never here.
func (c *BaseChannel) HandleMessage(channelName, senderID, chatID, content string) {
	if !c.IsAllowed(senderID) {
		return
	}
	c.Bus.PublishInbound(bus.InboundMessage{
		Channel:   channelName,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Origin:    bus.OriginChat,
		Timestamp: time.Now(),
	})
}
