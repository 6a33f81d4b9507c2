package application

import (
	"context"

	"alarm-tstat/internal/domain"
)

// Notifier delivers a human-readable alert. Delivery is best effort: the
// controller logs a failed delivery and moves on.
type Notifier interface {
	Alert(ctx context.Context, recipient, appName, message string) error
}

type NoopNotifier struct{}

func (n *NoopNotifier) Alert(_ context.Context, _, _, _ string) error {
	return nil
}

// StatePublisher mirrors the alarm state to another system, such as Home Assistant.
type StatePublisher interface {
	PublishAlarmState(ctx context.Context, state domain.AlarmState) error
}

type NoopPublisher struct{}

func (n *NoopPublisher) PublishAlarmState(_ context.Context, _ domain.AlarmState) error {
	return nil
}
