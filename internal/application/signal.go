package application

import (
	"context"

	"alarm-tstat/internal/domain"
)

// SignalSource produces raw level changes from the alarm relay lines.
type SignalSource interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Edges() <-chan domain.RawEdge
}
