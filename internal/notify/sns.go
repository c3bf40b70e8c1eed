package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// SNSNotifier delivers alerts as SMS via AWS SNS, for deployments where the
// operator is away from the dashboard.
type SNSNotifier struct {
	client *sns.Client
	phone  string
	logger *zap.Logger
}

type SNSConfig struct {
	Region      string
	PhoneNumber string
}

// NewSNSNotifier creates an SMS display channel.
func NewSNSNotifier(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSNotifier, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSNotifier{
		client: sns.NewFromConfig(awsCfg),
		phone:  cfg.PhoneNumber,
		logger: logger,
	}, nil
}

func (s *SNSNotifier) Display(ctx context.Context, alert *Alert) error {
	if s.phone == "" {
		return fmt.Errorf("sms channel has no destination number")
	}

	message := alert.Title
	if alert.Body != "" {
		message += ": " + alert.Body
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(s.phone),
		Message:     aws.String(message),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("alert sent as SMS via SNS",
		zap.String("id", alert.ID),
		zap.String("message_id", *result.MessageId),
	)

	return nil
}

func (s *SNSNotifier) Channel() string {
	return "sms"
}
