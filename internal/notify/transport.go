package notify

import (
	"context"
	"errors"

	"deadlineTracker/internal/logger"
	"deadlineTracker/internal/models/reminder"

	"go.uber.org/zap"
)

// ErrTransportFailure - отправка не удалась или не уложилась в таймаут, напоминание остаётся неотправленным
var ErrTransportFailure = errors.New("ошибка транспорта уведомлений")

type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type Transport interface {
	Send(ctx context.Context, recipient string, channel reminder.Channel, msg Message) error
}

// LogTransport пишет уведомления в лог, используется в разработке
type LogTransport struct{}

func (LogTransport) Send(ctx context.Context, recipient string, channel reminder.Channel, msg Message) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrTransportFailure, err)
	}
	logger.Info("Notify: Уведомление",
		zap.String("recipient", recipient),
		zap.String("channel", string(channel)),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))
	return nil
}
