package channels

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dootlabs/doot/pkg/bus"
	"github.com/dootlabs/doot/pkg/store"
)

// Telegram caps messages at 4096 characters.
const telegramMaxMessageLength = 4096

// lastChatIDKey remembers the chat that last messaged the bot, so heartbeat
// summaries and push notifications go to the same chat.
const lastChatIDKey = "telegram_chat_id.txt"

// TelegramChannel is the interactive chat surface, long-polling the Bot API.
type TelegramChannel struct {
	BaseChannel
	token   string
	store   *store.Store
	bot     *tgbotapi.BotAPI
	running atomic.Bool
}

// NewTelegramChannel creates the channel. st persists the last chat id.
func NewTelegramChannel(token string, allowFrom []string, messageBus *bus.MessageBus, st *store.Store) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: BaseChannel{Bus: messageBus, AllowFrom: allowFrom},
		token:       token,
		store:       st,
	}
}

func (c *TelegramChannel) Name() string {
	return "telegram"
}

// Start authorizes the bot and begins consuming updates.
func (c *TelegramChannel) Start() error {
	if c.token == "" {
		return fmt.Errorf("telegram token is empty")
	}

	var err error
	c.bot, err = tgbotapi.NewBotAPI(c.token)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	log.Printf("Telegram bot authorized on account %s", c.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)
	c.running.Store(true)

	go func() {
		for update := range updates {
			if !c.running.Load() {
				break
			}
			if update.Message == nil {
				continue
			}
			c.handleUpdate(update)
		}
	}()
	return nil
}

func (c *TelegramChannel) Stop() error {
	c.running.Store(false)
	if c.bot != nil {
		c.bot.StopReceivingUpdates()
	}
	return nil
}

// Send delivers an outbound reply to its chat.
func (c *TelegramChannel) Send(msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", msg.ChatID, err)
	}
	return c.SendTo(chatID, msg.Content)
}

// SendTo sends plain text to a chat, truncating at the platform limit.
func (c *TelegramChannel) SendTo(chatID int64, text string) error {
	if c.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}
	if text == "" {
		return nil
	}
	if len(text) > telegramMaxMessageLength {
		text = text[:telegramMaxMessageLength-3] + "..."
	}
	_, err := c.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (c *TelegramChannel) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	senderID := strconv.FormatInt(msg.From.ID, 10)
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	if !c.IsAllowed(senderID) {
		return
	}

	if msg.IsCommand() && msg.Command() == "start" {
		if err := c.SendTo(msg.Chat.ID, "Hi! Send me a message and I'll respond. Use /new to start a fresh conversation."); err != nil {
			log.Printf("Could not send greeting: %v", err)
		}
		return
	}

	content := strings.TrimSpace(msg.Text)
	if content == "" && msg.Caption != "" {
		content = strings.TrimSpace(msg.Caption)
	}
	if content == "" {
		return
	}

	c.rememberChat(chatID)
	c.HandleMessage(c.Name(), senderID, chatID, content)
}

// rememberChat stores the chat id so background notifications reach the chat
// that most recently messaged the bot.
func (c *TelegramChannel) rememberChat(chatID string) {
	if err := c.store.Write(lastChatIDKey, []byte(chatID)); err != nil {
		log.Printf("Could not remember telegram chat id: %v", err)
	}
}
