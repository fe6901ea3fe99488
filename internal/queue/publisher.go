// Package queue publishes access lifecycle events to SQS so that downstream
// consumers (notification mailers, audit archivers) can react to approvals and
// revocations without polling the directory.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"weatherdesk/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// AccessEventPublisher serializes AccessEvents onto one queue.
type AccessEventPublisher struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   *slog.Logger
}

// NewAccessEventPublisher creates a publisher for queueURL.
func NewAccessEventPublisher(client SQSSender, queueURL string, logger *slog.Logger) *AccessEventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessEventPublisher{
		client:   client,
		queueURL: queueURL,
		clock:    types.RealClock{},
		logger:   logger,
	}
}

// Publish fills in ID and OccurredAt when unset and sends the event. The
// action and target travel as message attributes so consumers can filter
// without decoding the body.
func (p *AccessEventPublisher) Publish(ctx context.Context, evt types.AccessEvent) error {
	if evt.ID == "" {
		evt.ID = "evt_" + uuid.New().String()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = p.clock.Now()
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal AccessEvent: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"action": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(evt.Action)),
			},
			"target": {
				DataType:    aws.String("String"),
				StringValue: aws.String(evt.Target),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send AccessEvent to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "access event published",
		"event_id", evt.ID,
		"action", string(evt.Action),
		"actor", evt.Actor.Username,
		"target", evt.Target,
		"occurred_at", evt.OccurredAt.Format(time.RFC3339),
	)
	return nil
}

// LogPublisher records events in the log only. It is used when no queue is
// configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, evt types.AccessEvent) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "access event",
		"action", string(evt.Action),
		"actor", evt.Actor.Username,
		"target", evt.Target,
		"status", string(evt.Status),
	)
	return nil
}
