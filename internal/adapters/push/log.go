package push

import (
	"context"

	"github.com/okian/pulse/pkg/logger"
)

// LogSender logs instead of sending. Every token counts as delivered.
type LogSender struct {
	log logger.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender() *LogSender {
	return &LogSender{log: logger.Get().Named("push")}
}

// SendMulticast implements Sender.
func (s *LogSender) SendMulticast(ctx context.Context, tokens []string, msg Message) (Result, error) {
	if err := checkBatch(tokens); err != nil {
		return Result{}, err
	}
	s.log.Info(ctx, "push send (log transport)",
		logger.Int("tokens", len(tokens)),
		logger.String("title", msg.Title),
		logger.String("body", msg.Body),
		logger.Any("data", msg.Data),
	)
	return Result{Succeeded: len(tokens)}, nil
}
