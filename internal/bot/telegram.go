package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram drives long polling and forwards messages to the Manager.
// Delivery order is only guaranteed per sender, which is all the
// Manager's flood guard needs.
type Telegram struct {
	api     *tgbotapi.BotAPI
	manager *Manager
	logger  *slog.Logger
}

// NewTelegram authenticates against the Bot API.
func NewTelegram(token string, manager *Manager, debug bool, logger *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("authenticating bot: %w", err)
	}
	api.Debug = debug

	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{api: api, manager: manager, logger: logger}, nil
}

// Run polls for updates until ctx is cancelled. Each message is handled
// in its own goroutine; Run returns after in-flight handlers finish.
func (t *Telegram) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := t.api.GetUpdatesChan(u)
	t.logger.Info("bot started", "username", t.api.Self.UserName)

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			wg.Wait()
			t.logger.Info("bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				wg.Wait()
				return nil
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer wg.Done()
				t.handle(ctx, msg)
			}(update.Message)
		}
	}
}

func (t *Telegram) handle(ctx context.Context, msg *tgbotapi.Message) {
	var reply Reply
	if msg.IsCommand() {
		reply = t.command(ctx, msg.Command())
	} else {
		t.sendTyping(msg.Chat.ID)
		reply = t.manager.HandleMessage(ctx, msg.From.ID, msg.Text)
	}
	if reply.Text == "" {
		return
	}
	t.send(msg.Chat.ID, reply)
}

func (t *Telegram) command(ctx context.Context, cmd string) Reply {
	switch cmd {
	case "start":
		return t.manager.Welcome()
	case "help":
		return t.manager.Help()
	case "stats":
		return t.manager.Stats()
	case "diagnose":
		return t.manager.Diagnose(ctx)
	default:
		return t.manager.Help()
	}
}

func (t *Telegram) sendTyping(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := t.api.Request(action); err != nil {
		t.logger.Debug("sending typing action", "error", err)
	}
}

func (t *Telegram) send(chatID int64, reply Reply) {
	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if reply.Markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Error("sending reply", "chat", chatID, "error", err)
	}
}
