package agent

import (
	"context"
	"log"
	"strings"

	"github.com/dootlabs/doot/pkg/bus"
	"github.com/dootlabs/doot/pkg/session"
)

const failureReply = "Something went wrong. Please try again later."

// Loop is the serialized turn queue: it consumes inbound messages one at a
// time and submits each to the coordinator, so turns from every entry surface
// complete in submission order. Do not run more than one Loop per bus.
type Loop struct {
	Bus         *bus.MessageBus
	Coordinator *session.Coordinator

	stopChan chan struct{}
}

// NewLoop creates a Loop.
func NewLoop(b *bus.MessageBus, coord *session.Coordinator) *Loop {
	return &Loop{
		Bus:         b,
		Coordinator: coord,
		stopChan:    make(chan struct{}),
	}
}

// Run processes inbound messages until Stop. Run it in a goroutine.
func (l *Loop) Run() {
	log.Println("Turn loop started")
	inbound := l.Bus.ConsumeInbound()
	for {
		select {
		case msg := <-inbound:
			l.processMessage(msg)
		case <-l.stopChan:
			log.Println("Turn loop stopping")
			return
		}
	}
}

// Stop stops the loop after the in-flight turn, if any, completes.
func (l *Loop) Stop() {
	close(l.stopChan)
}

func (l *Loop) processMessage(msg bus.InboundMessage) {
	log.Printf("Processing turn from %s (origin=%s)", msg.Channel, msg.Origin)

	if strings.TrimSpace(msg.Content) == "/new" {
		if err := l.Coordinator.Clear(); err != nil {
			log.Printf("Could not clear session: %v", err)
		}
		l.reply(msg, "Started a new conversation. The previous history has been cleared.")
		return
	}

	reply, err := l.Coordinator.SubmitTurn(context.Background(), msg.Origin, msg.Content)
	if err != nil {
		log.Printf("Turn from %s failed: %v", msg.Channel, err)
		l.reply(msg, failureReply)
		return
	}
	if strings.TrimSpace(reply) == "" {
		reply = "No reply generated."
	}
	l.reply(msg, reply)
}

func (l *Loop) reply(msg bus.InboundMessage, content string) {
	l.Bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
	})
}
