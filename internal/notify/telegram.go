package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 2
)

// Telegram sends alerts to one chat through the Bot API. The bot client is
// created on first use, so a misconfigured token only fails when an alert is
// actually due.
type Telegram struct {
	token    string
	chatID   int64
	endpoint string
	client   *http.Client
	logger   *slog.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

type TelegramConfig struct {
	Token  string
	ChatID int64

	// Endpoint overrides tgbotapi.APIEndpoint; it must contain two %s verbs.
	Endpoint   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:    cfg.Token,
		chatID:   cfg.ChatID,
		endpoint: cfg.Endpoint,
		client:   cfg.HTTPClient,
		logger:   cfg.Logger.With("component", "notify.telegram"),
	}
}

func (t *Telegram) botAPI() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t.logger.Debug("telegram notifier connected", "username", bot.Self.UserName)
	t.bot = bot
	return bot, nil
}

func (t *Telegram) Notify(ctx context.Context, alert Alert) error {
	bot, err := t.botAPI()
	if err != nil {
		return err
	}
	text := alert.Text()
	if len(text) > telegramMaxMsgLen {
		text = text[:telegramMaxMsgLen]
	}

	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		if _, lastErr = bot.Send(tgbotapi.NewMessage(t.chatID, text)); lastErr == nil {
			return nil
		}
		if attempt == telegramMaxSendRetries {
			break
		}

		backoff := time.Duration(attempt+1) * time.Second
		if strings.Contains(lastErr.Error(), "Too Many Requests") {
			backoff *= 3
		}
		t.logger.Warn("telegram send error, retrying", "err", lastErr, "backoff", backoff)
		select {
		case <-ctx.Done():
			return fmt.Errorf("telegram send: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, lastErr)
}
