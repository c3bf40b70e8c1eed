// Package push delivers server-initiated notification payloads to the worker
// controller. Payloads arrive on an SQS queue the backend publishes to when a
// push subscription exists for this agent.
package push

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// Handler receives one raw push payload. Parse failures are the handler's
// concern; the consumer deletes the message either way.
type Handler interface {
	HandlePush(ctx context.Context, payload []byte)
}

// Config holds SQS configuration for the push channel.
type Config struct {
	Region   string
	QueueURL string
}

// sqsAPI is the slice of the SQS client the consumer calls.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer long-polls the push queue and hands payloads to the worker.
type Consumer struct {
	client   sqsAPI
	queueURL string
	handler  Handler
	logger   *zap.Logger

	// receiveErrDelay paces retries after a failed receive so a broken
	// queue doesn't spin the loop.
	receiveErrDelay time.Duration
}

// NewConsumer creates a push consumer against the real SQS service.
func NewConsumer(ctx context.Context, cfg Config, handler Handler, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("push consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Consumer{
		client:          sqs.NewFromConfig(awsCfg),
		queueURL:        cfg.QueueURL,
		handler:         handler,
		logger:          logger,
		receiveErrDelay: time.Second,
	}, nil
}

// Run long-polls until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			c.logger.Info("push consumer stopping")
			return
		}

		if err := c.poll(ctx); err != nil {
			if ctx.Err() != nil {
				c.logger.Info("push consumer stopping")
				return
			}
			c.logger.Warn("push receive failed", zap.Error(err))

			select {
			case <-ctx.Done():
				return
			case <-time.After(c.receiveErrDelay):
			}
		}
	}
}

// poll receives at most one message, hands it to the worker, and deletes it.
func (c *Consumer) poll(ctx context.Context) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	})
	if err != nil {
		return fmt.Errorf("sqs receive failed: %w", err)
	}

	for _, msg := range result.Messages {
		if msg.Body != nil {
			c.handler.HandlePush(ctx, []byte(*msg.Body))
		}

		if msg.ReceiptHandle == nil {
			continue
		}
		_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.queueURL),
			ReceiptHandle: msg.ReceiptHandle,
		})
		if err != nil {
			// The message will redeliver after the visibility timeout;
			// the worker's display path tolerates the duplicate
			c.logger.Warn("push delete failed", zap.Error(err))
		}
	}

	return nil
}
