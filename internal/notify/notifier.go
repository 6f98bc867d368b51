package notify

import (
	"context"
	"errors"
	"fmt"

	"bookingsys/internal/config"
	"bookingsys/internal/domain"
	"bookingsys/internal/metrics"
	"bookingsys/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// ErrNoRecipient means the channel has no address for the user. It is not
// worth retrying.
var ErrNoRecipient = errors.New("no recipient for channel")

// MessageSender is the part of tgbotapi.BotAPI the notifier needs.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramNotifier struct {
	sender MessageSender
	logger *zerolog.Logger
}

// NewTelegramNotifier logs in to the Bot API with the configured token.
func NewTelegramNotifier(cfg config.TelegramConfig, logger *zerolog.Logger) (*TelegramNotifier, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	logger.Info().Str("account", bot.Self.UserName).Msg("Telegram notifier authorized")
	return NewTelegramNotifierWithSender(bot, logger), nil
}

func NewTelegramNotifierWithSender(sender MessageSender, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{sender: sender, logger: logger}
}

func (n *TelegramNotifier) Channel() string { return "telegram" }

func (n *TelegramNotifier) Notify(_ context.Context, user *models.User, subject, body string) error {
	if user == nil || user.TelegramChatID == 0 {
		return ErrNoRecipient
	}

	msg := tgbotapi.NewMessage(user.TelegramChatID, subject+"\n\n"+body)
	msg.DisableWebPagePreview = true
	if _, err := n.sender.Send(msg); err != nil {
		metrics.IncNotification(n.Channel(), "error")
		return fmt.Errorf("telegram send to %d: %w", user.TelegramChatID, err)
	}
	metrics.IncNotification(n.Channel(), "sent")
	return nil
}

// LogNotifier writes notifications to the log. It is the channel of last resort.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Channel() string { return "log" }

func (n *LogNotifier) Notify(_ context.Context, user *models.User, subject, body string) error {
	evt := n.logger.Info().Str("channel", n.Channel()).Str("subject", subject).Str("body", body)
	if user != nil {
		evt = evt.Int64("user_id", user.ID).Str("login", user.Login)
	}
	evt.Msg("notification")
	metrics.IncNotification(n.Channel(), "sent")
	return nil
}

// FallbackNotifier tries primary and uses fallback when primary has no
// address for the user.
type FallbackNotifier struct {
	primary  domain.Notifier
	fallback domain.Notifier
}

func NewFallbackNotifier(primary, fallback domain.Notifier) *FallbackNotifier {
	return &FallbackNotifier{primary: primary, fallback: fallback}
}

func (n *FallbackNotifier) Channel() string {
	return n.primary.Channel() + "+" + n.fallback.Channel()
}

func (n *FallbackNotifier) Notify(ctx context.Context, user *models.User, subject, body string) error {
	err := n.primary.Notify(ctx, user, subject, body)
	if errors.Is(err, ErrNoRecipient) {
		return n.fallback.Notify(ctx, user, subject, body)
	}
	return err
}
