// Package notify surfaces notifications to the operator through whatever
// native channels the deployment has configured: a local toast relay
// (webhook), email, SMS, or plain logging in development.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/metrics"
)

// Alert is one notification ready for native display.
type Alert struct {
	ID                 string `json:"id,omitempty"`
	Title              string `json:"title"`
	Body               string `json:"body,omitempty"`
	Tag                string `json:"tag,omitempty"` // native de-duplication hint
	TargetURL          string `json:"target_url,omitempty"`
	Priority           string `json:"priority,omitempty"`
	RequireInteraction bool   `json:"require_interaction,omitempty"`
}

// Notifier is the unified interface for all display channels.
type Notifier interface {
	Display(ctx context.Context, alert *Alert) error
	Channel() string
}

// MultiNotifier fans an alert out to every configured channel. Individual
// channel failures are logged, not surfaced; the display path must never
// break the worker loop. An error is returned only when no channel at all
// accepted the alert.
type MultiNotifier struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewMultiNotifier creates a fan-out over the given channels.
func NewMultiNotifier(logger *zap.Logger, notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{
		notifiers: notifiers,
		logger:    logger,
	}
}

// Display shows the alert on every channel.
func (m *MultiNotifier) Display(ctx context.Context, alert *Alert) error {
	if len(m.notifiers) == 0 {
		// Equivalent of notification permission denied: silently no-op.
		m.logger.Debug("no display channels configured, dropping alert",
			zap.String("title", alert.Title),
		)
		return nil
	}

	displayed := 0
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Display(ctx, alert); err != nil {
			m.logger.Warn("display channel failed",
				zap.String("channel", n.Channel()),
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		metrics.RecordAlertDisplayed(n.Channel())
		displayed++
	}

	if displayed == 0 {
		return fmt.Errorf("all display channels failed: %w", lastErr)
	}

	return nil
}

// Channel identifies the fan-out itself.
func (m *MultiNotifier) Channel() string {
	return "multi"
}

// LogNotifier writes alerts to the structured log (development mode).
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only display channel.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Display(ctx context.Context, alert *Alert) error {
	l.logger.Info("displaying notification",
		zap.String("id", alert.ID),
		zap.String("title", alert.Title),
		zap.String("body", alert.Body),
		zap.String("tag", alert.Tag),
		zap.String("target_url", alert.TargetURL),
	)
	return nil
}

func (l *LogNotifier) Channel() string {
	return "log"
}
