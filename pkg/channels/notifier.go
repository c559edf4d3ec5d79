package channels

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dootlabs/doot/pkg/store"
)

// TelegramNotifier delivers background notifications (heartbeat summaries,
// task results) to a Telegram chat. The chat is the configured one, or the
// chat that last messaged the bot.
type TelegramNotifier struct {
	channel      *TelegramChannel
	store        *store.Store
	configChatID string
}

// NewTelegramNotifier creates a notifier sharing the channel's bot.
// configChatID may be empty, in which case the stored last chat id is used.
func NewTelegramNotifier(channel *TelegramChannel, st *store.Store, configChatID string) *TelegramNotifier {
	return &TelegramNotifier{
		channel:      channel,
		store:        st,
		configChatID: strings.TrimSpace(configChatID),
	}
}

// Send delivers text to the resolved chat. No resolvable chat is an error the
// caller logs; it is never fatal to the caller's loop.
func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	_ = ctx // the bot API client manages its own request deadlines
	chatID, err := n.resolveChatID()
	if err != nil {
		return err
	}
	return n.channel.SendTo(chatID, text)
}

func (n *TelegramNotifier) resolveChatID() (int64, error) {
	raw := n.configChatID
	if raw == "" {
		data, ok, err := n.store.Read(lastChatIDKey)
		if err != nil {
			return 0, fmt.Errorf("read last chat id: %w", err)
		}
		if !ok {
			return 0, fmt.Errorf("no chat id configured and nobody has messaged the bot yet")
		}
		raw = strings.TrimSpace(string(data))
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", raw, err)
	}
	return chatID, nil
}
