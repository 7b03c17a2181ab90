package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/cannahum/eventsourcing-lite/event"
)

// SQSAPI is the part of the SQS client the publisher uses
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher implements event.Bus by sending each event to one queue.
// On a FIFO queue the aggregate id is the message group, so a stream keeps its order.
type SQSPublisher struct {
	api      SQSAPI
	queueURL string
	fifo     bool
	logger   *zap.Logger
}

// NewSQSPublisher creates a SQSPublisher for queueURL
func NewSQSPublisher(api SQSAPI, queueURL string, opts ...Option) *SQSPublisher {
	return &SQSPublisher{
		api:      api,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
		logger:   newOptions(opts).logger,
	}
}

// Publish implements event.Bus
func (p *SQSPublisher) Publish(ctx context.Context, events ...event.DomainEvent) error {
	for _, e := range events {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		input := &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"event_name": {
					DataType:    aws.String("String"),
					StringValue: aws.String(e.Name),
				},
			},
		}
		// SQS rejects String attributes with an empty value
		if e.AggregateType != "" {
			input.MessageAttributes["aggregate_type"] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(e.AggregateType),
			}
		}
		if p.fifo {
			input.MessageGroupId = aws.String(e.AggregateID)
			input.MessageDeduplicationId = aws.String(e.Metadata.ID.String())
		}

		out, err := p.api.SendMessage(ctx, input)
		if err != nil {
			return fmt.Errorf("failed to send event %s to SQS: %w", e.Name, err)
		}

		p.logger.Debug("event published",
			zap.String("event_id", e.Metadata.ID.String()),
			zap.String("event", e.Name),
			zap.String("aggregate_id", e.AggregateID),
			zap.String("message_id", aws.ToString(out.MessageId)),
		)
	}
	return nil
}
