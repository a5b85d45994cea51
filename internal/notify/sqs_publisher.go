package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/clinic-webhooks/internal/events"
	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

// SQSAPI is the subset of the SQS client used by SQSPublisher.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher forwards outbox entries (notification requests) to the messaging queue.
// Delivery to customers happens on the consumer side of that queue.
type SQSPublisher struct {
	client   SQSAPI
	queueURL string
	fifo     bool
	logger   *logging.Logger
}

// NewSQSPublisher creates a publisher for queueURL. FIFO queues get the tenant as
// message group and the outbox id as deduplication id.
func NewSQSPublisher(client SQSAPI, queueURL string, logger *logging.Logger) *SQSPublisher {
	if client == nil {
		panic("notify: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("notify: SQS queueURL cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
		logger:   logger,
	}
}

func (p *SQSPublisher) Handle(ctx context.Context, entry events.OutboxEntry) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(entry.Payload)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(entry.Type)},
			"tenant_id":  {DataType: aws.String("String"), StringValue: aws.String(entry.TenantID)},
			"outbox_id":  {DataType: aws.String("String"), StringValue: aws.String(entry.ID.String())},
		},
	}
	if p.fifo {
		input.MessageGroupId = aws.String(entry.TenantID)
		input.MessageDeduplicationId = aws.String(entry.ID.String())
	}
	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("notify: failed to send SQS message: %w", err)
	}
	p.logger.Debug("notification request queued", "outbox_id", entry.ID, "type", entry.Type, "message_id", aws.ToString(out.MessageId))
	return nil
}

// LogPublisher only logs outbox entries; used when no queue is configured.
type LogPublisher struct {
	logger *logging.Logger
}

func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Handle(_ context.Context, entry events.OutboxEntry) error {
	p.logger.Info("notification request (no queue configured)",
		"outbox_id", entry.ID, "type", entry.Type, "tenant_id", entry.TenantID, "payload", string(entry.Payload))
	return nil
}
