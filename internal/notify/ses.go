package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// SESNotifier delivers alerts to the on-call clinician's inbox via AWS SES.
type SESNotifier struct {
	client *ses.Client
	from   string
	to     string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
	ToEmail   string
}

// NewSESNotifier creates an email display channel.
func NewSESNotifier(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESNotifier, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	return &SESNotifier{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		to:     cfg.ToEmail,
		logger: logger,
	}, nil
}

func (s *SESNotifier) Display(ctx context.Context, alert *Alert) error {
	if s.to == "" {
		return fmt.Errorf("email channel has no destination address")
	}

	body := alert.Body
	if alert.TargetURL != "" {
		body = fmt.Sprintf("%s\n\n%s", body, alert.TargetURL)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{s.to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(alert.Title),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("alert emailed via SES",
		zap.String("id", alert.ID),
		zap.String("to", s.to),
		zap.String("message_id", *result.MessageId),
	)

	return nil
}

func (s *SESNotifier) Channel() string {
	return "email"
}
