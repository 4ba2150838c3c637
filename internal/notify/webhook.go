package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"deadlineTracker/internal/logger"
	"deadlineTracker/internal/models/reminder"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type WebhookConfig struct {
	URL             string
	RequestTimeout  time.Duration
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// WebhookTransport отправляет JSON на внешний шлюз рассылки.
// 5xx и сетевые ошибки повторяются с экспоненциальной задержкой, 4xx сразу считаются отказом
type WebhookTransport struct {
	cfg    WebhookConfig
	client *http.Client
}

type webhookPayload struct {
	Recipient string `json:"recipient"`
	Channel   string `json:"channel"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

func NewWebhookTransport(cfg WebhookConfig) *WebhookTransport {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 30 * time.Second
	}

	return &WebhookTransport{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

func (t *WebhookTransport) Send(ctx context.Context, recipient string, channel reminder.Channel, msg Message) error {
	body, err := json.Marshal(webhookPayload{
		Recipient: recipient,
		Channel:   string(channel),
		Subject:   msg.Subject,
		Body:      msg.Body,
	})
	if err != nil {
		return fmt.Errorf("%w: кодирование запроса: %v", ErrTransportFailure, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.InitialInterval
	b.MaxElapsedTime = t.cfg.MaxElapsed

	attempt := 0
	op := func() error {
		attempt++
		err := t.post(ctx, body)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if err != nil {
			logger.Debug("Notify: Неудачная попытка запроса к шлюзу",
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("%w: %s после %d попыток: %v", ErrTransportFailure, t.cfg.URL, attempt, err)
	}
	return nil
}

func (t *WebhookTransport) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("создание запроса: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("отправка запроса: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := fmt.Errorf("шлюз ответил %d: %s", resp.StatusCode, bytes.TrimSpace(text))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return statusErr
	}
	return backoff.Permanent(statusErr)
}
