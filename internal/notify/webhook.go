package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookNotifier posts alerts to a local toast relay (the small helper that
// renders OS-level notifications on the operator's machine).
type WebhookNotifier struct {
	client *http.Client
	url    string
	logger *zap.Logger
}

type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// NewWebhookNotifier creates a webhook display channel.
func NewWebhookNotifier(cfg WebhookConfig, logger *zap.Logger) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &WebhookNotifier{
		client: &http.Client{Timeout: timeout},
		url:    cfg.URL,
		logger: logger,
	}
}

func (s *WebhookNotifier) Display(ctx context.Context, alert *Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create toast request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Beacon/1.0.0")
	req.Header.Set("X-Beacon-Alert-ID", alert.ID)
	if alert.Tag != "" {
		req.Header.Set("X-Beacon-Alert-Tag", alert.Tag)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("toast request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("toast relay returned non-2xx status: %d, body: %s", resp.StatusCode, string(preview))
	}

	s.logger.Debug("alert delivered to toast relay",
		zap.String("id", alert.ID),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}

func (s *WebhookNotifier) Channel() string {
	return "webhook"
}
