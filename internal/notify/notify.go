package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/nzrmohammad/panelbridge/internal/config"
)

// Notifier delivers plain-text messages to users and operators.
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
	SendToAdmins(ctx context.Context, text string) error
}

type telegramNotifier struct {
	bot      *tgbotapi.BotAPI
	adminIDs []int64
	log      *zap.Logger
}

func New(cfg config.Config, log *zap.Logger) (Notifier, error) {
	if cfg.Telegram.BotToken == "" {
		log.Warn("telegram bot token not set, notifications disabled")
		return Nop{}, nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	log.Info("telegram notifier ready", zap.String("bot", bot.Self.UserName))
	return &telegramNotifier{
		bot:      bot,
		adminIDs: cfg.Telegram.AdminIDs,
		log:      log.Named("notify"),
	}, nil
}

func (n *telegramNotifier) Send(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	return nil
}

// SendToAdmins fans out to every configured admin chat. A failed
// delivery is logged and does not stop the rest.
func (n *telegramNotifier) SendToAdmins(ctx context.Context, text string) error {
	for _, id := range n.adminIDs {
		if err := n.Send(ctx, id, text); err != nil {
			n.log.Warn("admin notification failed",
				zap.Int64("chat_id", id),
				zap.Error(err))
		}
	}
	return nil
}

// Nop swallows every message. Used when no bot token is configured,
// and in tests.
type Nop struct{}

func (Nop) Send(ctx context.Context, chatID int64, text string) error { return nil }
func (Nop) SendToAdmins(ctx context.Context, text string) error       { return nil }

var Module = fx.Module("notify",
	fx.Provide(New),
)
