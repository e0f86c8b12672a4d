package consumer

import (
	"context"
	"encoding/json"
	"time"

	"immune-me-backend/services"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DueReminderEvent is the notification subsystem's due-date message.
type DueReminderEvent struct {
	RecipientID string `json:"recipientId"`
	Phone       string `json:"phone"`
	DueDate     string `json:"dueDate"`
}

// SQSConsumer long-polls the notification queue and feeds due-reminder events
// into the scheduler. Started only when a queue URL is configured.
type SQSConsumer struct {
	client    *sqs.Client
	queueURL  string
	scheduler *services.ReminderScheduler
	logger    *zap.Logger
}

func NewSQSConsumer(ctx context.Context, queueURL string, scheduler *services.ReminderScheduler, logger *zap.Logger) (*SQSConsumer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	return &SQSConsumer{
		client:    sqs.NewFromConfig(cfg),
		queueURL:  queueURL,
		scheduler: scheduler,
		logger:    logger,
	}, nil
}

func (c *SQSConsumer) Start(ctx context.Context) {
	c.logger.Info("SQS consumer started", zap.String("queue", c.queueURL))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("SQS consumer shutting down")
			return
		default:
			c.poll(ctx)
		}
	}
}

func (c *SQSConsumer) poll(ctx context.Context) {
	output, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     5, // long polling
	})
	if err != nil {
		c.logger.Error("SQS receive error", zap.Error(err))
		time.Sleep(5 * time.Second)
		return
	}

	for _, msg := range output.Messages {
		c.processMessage(ctx, msg.Body, msg.ReceiptHandle)
	}
}

func (c *SQSConsumer) processMessage(ctx context.Context, body, receiptHandle *string) {
	if body == nil || *body == "" || receiptHandle == nil {
		c.logger.Error("received empty SQS message")
		return
	}

	var event DueReminderEvent
	if err := json.Unmarshal([]byte(*body), &event); err != nil {
		c.logger.Error("failed to unmarshal due-reminder event", zap.Error(err))
		c.deleteMessage(ctx, receiptHandle) // unparseable, delete to avoid an infinite loop
		return
	}

	recipientID, err := uuid.Parse(event.RecipientID)
	if err != nil {
		c.logger.Error("due-reminder event has invalid recipientId", zap.String("recipient_id", event.RecipientID))
		c.deleteMessage(ctx, receiptHandle)
		return
	}

	dueDate, err := time.Parse(time.RFC3339, event.DueDate)
	if err != nil {
		c.logger.Error("due-reminder event has invalid dueDate", zap.String("due_date", event.DueDate))
		c.deleteMessage(ctx, receiptHandle)
		return
	}

	// Scheduling errors leave the message on the queue so SQS retries it
	// after the visibility timeout.
	if _, err := c.scheduler.ScheduleReminders(ctx, recipientID, event.Phone, dueDate); err != nil {
		c.logger.Error("failed to schedule reminders from queue event", zap.Error(err))
		return
	}

	c.deleteMessage(ctx, receiptHandle)
}

func (c *SQSConsumer) deleteMessage(ctx context.Context, receiptHandle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		c.logger.Error("failed to delete SQS message", zap.Error(err))
	}
}
