package push

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

type multicastClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMSender sends push notifications via Firebase Cloud Messaging.
type FCMSender struct {
	client multicastClient
	log    logger.Logger
}

// NewFCMSender creates an FCM sender from a service account credentials file.
func NewFCMSender(ctx context.Context, credentialsFile string) (*FCMSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return newFCMSender(client), nil
}

func newFCMSender(client multicastClient) *FCMSender {
	return &FCMSender{client: client, log: logger.Get().Named("fcm")}
}

// SendMulticast implements Sender.
func (s *FCMSender) SendMulticast(ctx context.Context, tokens []string, msg Message) (Result, error) {
	if err := checkBatch(tokens); err != nil {
		return Result{}, err
	}

	start := time.Now()
	resp, err := s.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: &messaging.Notification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Data,
	})
	metrics.RecordPushBatchLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return Result{}, fmt.Errorf("fcm multicast: %w", err)
	}
	return resultFromBatch(tokens, resp), nil
}

// resultFromBatch pairs FCM responses with tokens; responses come back in request order.
func resultFromBatch(tokens []string, resp *messaging.BatchResponse) Result {
	res := Result{Succeeded: resp.SuccessCount, Failed: resp.FailureCount}
	for i, r := range resp.Responses {
		if r == nil || r.Success || i >= len(tokens) {
			continue
		}
		res.Failures = append(res.Failures, TokenFailure{Token: tokens[i], Err: r.Error})
	}
	return res
}
