// Package push delivers follower notifications to devices.
package push

import (
	"context"
	"errors"
)

// MaxBatchSize is the transport's per-request token limit.
const MaxBatchSize = 500

var (
	// ErrTooManyTokens is returned for batches above MaxBatchSize.
	ErrTooManyTokens = errors.New("too many tokens in one batch")
	// ErrNoTokens is returned for empty batches.
	ErrNoTokens = errors.New("no tokens to send to")
)

// Message is the notification payload shared by every token in a batch.
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// TokenFailure reports one token the transport rejected.
type TokenFailure struct {
	Token string
	Err   error
}

// Result summarises one batch.
type Result struct {
	Succeeded int
	Failed    int
	Failures  []TokenFailure
}

// Sender sends one message to a batch of device tokens.
// A non-nil error means the whole batch failed; per-token failures are reported in Result.
type Sender interface {
	SendMulticast(ctx context.Context, tokens []string, msg Message) (Result, error)
}

func checkBatch(tokens []string) error {
	switch {
	case len(tokens) == 0:
		return ErrNoTokens
	case len(tokens) > MaxBatchSize:
		return ErrTooManyTokens
	}
	return nil
}
