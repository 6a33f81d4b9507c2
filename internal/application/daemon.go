package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"alarm-tstat/internal/domain"
)

// Daemon is the event loop. Raw edges, debounce deadlines and controller
// decisions are all handled on the goroutine that calls Run.
type Daemon struct {
	source     SignalSource
	debouncer  *Debouncer
	controller *SetbackController
	keepAlive  time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func NewDaemon(
	source SignalSource,
	debouncer *Debouncer,
	controller *SetbackController,
	keepAlive time.Duration,
	logger *slog.Logger,
) *Daemon {
	if keepAlive <= 0 {
		keepAlive = time.Minute
	}
	return &Daemon{
		source:     source,
		debouncer:  debouncer,
		controller: controller,
		keepAlive:  keepAlive,
		now:        time.Now,
		logger:     logger,
	}
}

func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("starting signal source", "source", d.source.Name())
	if err := d.source.Start(ctx); err != nil {
		return fmt.Errorf("starting signal source: %w", err)
	}
	defer func() {
		if err := d.source.Stop(); err != nil {
			d.logger.Warn("stopping signal source", "error", err)
		}
	}()

	d.controller.Start(ctx)

	d.logger.Info("controller ready, waiting for alarm transitions",
		"hold_time", d.debouncer.HoldTime(),
		"state", d.controller.State(),
	)

	ticker := time.NewTicker(d.keepAlive)
	defer ticker.Stop()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	// edges goes nil once the source closes; the loop then only waits for
	// the debounce deadlines still pending before it returns.
	edges := d.source.Edges()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case edge, ok := <-edges:
			if !ok {
				edges = d.closed()
				break
			}
			d.feed(edge)
			if !d.drain(edges) {
				edges = d.closed()
			}

		case <-timer.C:
			if !d.drain(edges) {
				edges = d.closed()
			}

		case <-ticker.C:
			d.logger.Debug("alive", "state", d.controller.State())
			continue
		}

		d.dispatch(ctx, d.now())
		d.arm(timer)

		if edges == nil {
			if _, pending := d.debouncer.NextDeadline(); !pending {
				return fmt.Errorf("signal source %s closed", d.source.Name())
			}
		}
	}
}

func (d *Daemon) feed(edge domain.RawEdge) {
	if !d.debouncer.OnRawEdge(edge) {
		d.logger.Warn("edge on unknown line", "line", edge.Line)
		return
	}
	d.logger.Debug("raw edge", "line", edge.Line, "level", edge.Level)
}

// drain feeds every edge already queued on the source to the debouncer, so
// edges that piled up while a decision was running are seen before any hold
// time is checked. It reports false when the channel turns out to be closed.
func (d *Daemon) drain(edges <-chan domain.RawEdge) bool {
	for {
		select {
		case edge, ok := <-edges:
			if !ok {
				return false
			}
			d.feed(edge)
		default:
			return true
		}
	}
}

func (d *Daemon) closed() <-chan domain.RawEdge {
	d.logger.Info("signal source closed, settling pending edges", "source", d.source.Name())
	return nil
}

func (d *Daemon) dispatch(ctx context.Context, now time.Time) {
	for _, t := range d.debouncer.Due(now) {
		d.handle(ctx, t)
	}
}

func (d *Daemon) handle(ctx context.Context, t domain.Transition) {
	d.logger.Info("switch held", "line", t.Line, "to", t.To, "held", t.Held)
	d.controller.OnTransition(ctx, t)
}

// arm points timer at the next debounce deadline, or leaves it stopped.
func (d *Daemon) arm(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	next, ok := d.debouncer.NextDeadline()
	if !ok {
		return
	}
	wait := next.Sub(d.now())
	if wait < 0 {
		wait = 0
	}
	timer.Reset(wait)
}
