package bus

import (
	"log"
	"sync"
)

// MessageBus decouples entry surfaces from the turn loop. Inbound messages
// are buffered and consumed by exactly one loop, which is what gives turns
// their total order: submission order on the channel is processing order.
// Outbound messages fan out to per-channel subscribers.
type MessageBus struct {
	inbound             chan InboundMessage
	outbound            chan OutboundMessage
	outboundSubscribers map[string][]func(OutboundMessage)
	subscribersMu       sync.RWMutex
	stopOnce            sync.Once
	stopChan            chan struct{}
}

// NewMessageBus creates a new MessageBus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:             make(chan InboundMessage, 100),
		outbound:            make(chan OutboundMessage, 100),
		outboundSubscribers: make(map[string][]func(OutboundMessage)),
		stopChan:            make(chan struct{}),
	}
}

// PublishInbound enqueues a message from an entry surface for the turn loop.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound returns the channel the turn loop consumes from. There must
// be a single consumer; a second one would break turn ordering.
func (b *MessageBus) ConsumeInbound() <-chan InboundMessage {
	return b.inbound
}

// PublishOutbound enqueues a reply for delivery to chat surfaces.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

// SubscribeOutbound subscribes to outbound messages for a specific channel.
func (b *MessageBus) SubscribeOutbound(channel string, callback func(OutboundMessage)) {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()
	b.outboundSubscribers[channel] = append(b.outboundSubscribers[channel], callback)
}

// DispatchOutbound delivers outbound messages to subscribers until Stop.
// Run it in a goroutine.
func (b *MessageBus) DispatchOutbound() {
	for {
		select {
		case msg := <-b.outbound:
			b.subscribersMu.RLock()
			subscribers := b.outboundSubscribers[msg.Channel]
			b.subscribersMu.RUnlock()

			for _, cb := range subscribers {
				func(callback func(OutboundMessage)) {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("Panic in outbound subscriber for %s: %v", msg.Channel, r)
						}
					}()
					callback(msg)
				}(cb)
			}
		case <-b.stopChan:
			return
		}
	}
}

// Stop stops the dispatcher loop.
func (b *MessageBus) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
}
