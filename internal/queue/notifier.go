// Package queue publishes forecast-updated events to SQS so downstream
// consumers can react when a checkpoint receives a new upstream payload.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"weatherbingo/internal/types"
)

// EventForecastUpdated is the event_type attribute on every message.
const EventForecastUpdated = "forecast_updated"

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// UpdateMessage is the JSON body of a forecast-updated event.
type UpdateMessage struct {
	EventID string `json:"event_id"`
	types.ForecastUpdate
}

// UpdateNotifier sends one message per updated checkpoint.
type UpdateNotifier struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewUpdateNotifier creates an UpdateNotifier for the given queue.
func NewUpdateNotifier(client SQSSender, queueURL string, logger *slog.Logger) *UpdateNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateNotifier{client: client, queueURL: queueURL, logger: logger}
}

// NotifyUpdated enqueues an event for the checkpoint. Messages carry the
// checkpoint and race IDs as attributes so subscribers can filter without
// parsing the body.
func (n *UpdateNotifier) NotifyUpdated(ctx context.Context, update types.ForecastUpdate) error {
	msg := UpdateMessage{
		EventID:        uuid.New().String(),
		ForecastUpdate: update,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal UpdateMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(EventForecastUpdated),
			},
			"checkpoint_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(update.CheckpointID),
			},
			"race_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(update.RaceID),
			},
		},
	}

	if _, err := n.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send UpdateMessage to %s: %w", n.queueURL, err)
	}

	n.logger.InfoContext(ctx, "forecast update sent",
		"queue_url", n.queueURL,
		"event_id", msg.EventID,
		"checkpoint_id", update.CheckpointID,
		"race_id", update.RaceID,
		"extraction_count", update.ExtractionCount,
	)
	return nil
}
