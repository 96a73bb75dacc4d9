package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"news-pulse/models"
)

// AlertEvent is the payload pushed to the notification boundary whenever an
// alert row is created. Delivery is at-least-once per created alert; the
// receiving side owns fan-out and retries.
type AlertEvent struct {
	TagID       uint                 `json:"tag_id"`
	TagName     string               `json:"tag_name,omitempty"`
	AlertType   models.AlertType     `json:"alert_type"`
	Severity    models.AlertSeverity `json:"severity"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Metrics     models.AlertMetrics  `json:"metrics"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Notifier delivers alert events to one destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, event *AlertEvent) error
}

// Manager broadcasts events to all registered notifiers.
type Manager struct {
	logger    *zap.Logger
	notifiers []Notifier
}

// NewManager creates a manager; zero notifiers is a valid configuration.
func NewManager(logger *zap.Logger, notifiers ...Notifier) *Manager {
	return &Manager{logger: logger, notifiers: notifiers}
}

// Register adds another destination.
func (m *Manager) Register(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends the event to every notifier. Failures are collected, not
// retried; a partial failure still delivers to the remaining destinations.
func (m *Manager) Broadcast(ctx context.Context, event *AlertEvent) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, event); err != nil {
			m.logger.Warn("alert notification failed",
				zap.String("notifier", n.Name()),
				zap.Uint("tag_id", event.TagID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}
