package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"alarm-tstat/internal/domain"
	"alarm-tstat/internal/infra"
)

type ControllerConfig struct {
	// SetpointRetry bounds the search for today's setback setpoint.
	SetpointRetry infra.RetryConfig
	// Recipient, AppName and FailureMessage are handed to the Notifier
	// when the setback could not be applied.
	Recipient      string
	AppName        string
	FailureMessage string
}

// SetbackController keeps the thermostat in step with the alarm: setback and
// hold while armed, scheduled program while disarmed. It is driven from a
// single goroutine and holds no locks.
type SetbackController struct {
	thermostat ThermostatClient
	accessory  AccessoryController
	notifier   Notifier
	publisher  StatePublisher
	cfg        ControllerConfig
	logger     *slog.Logger

	state       domain.AlarmState
	settled     bool
	justStarted bool
}

func NewSetbackController(
	thermostat ThermostatClient,
	notifier Notifier,
	publisher StatePublisher,
	cfg ControllerConfig,
	logger *slog.Logger,
) *SetbackController {
	if notifier == nil {
		notifier = &NoopNotifier{}
	}
	if publisher == nil {
		publisher = &NoopPublisher{}
	}

	c := &SetbackController{
		thermostat:  thermostat,
		notifier:    notifier,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger,
		state:       domain.Disarmed,
		justStarted: true,
	}
	if acc, ok := thermostat.(AccessoryController); ok {
		c.accessory = acc
	}
	if c.cfg.SetpointRetry.Retryable == nil {
		c.cfg.SetpointRetry.Retryable = setpointRetryable
	}
	return c
}

func (c *SetbackController) State() domain.AlarmState {
	return c.state
}

func (c *SetbackController) JustStarted() bool {
	return c.justStarted
}

// Start runs the startup Disarmed evaluation so the thermostat is in a known
// state before any physical transition arrives.
func (c *SetbackController) Start(ctx context.Context) {
	c.logger.Info("evaluating startup state", "state", domain.Disarmed)
	c.evaluate(ctx, domain.Transition{To: domain.Disarmed, Line: "startup"})
}

// OnTransition handles a debounced transition. A transition to the state the
// controller is already settled in is ignored.
func (c *SetbackController) OnTransition(ctx context.Context, t domain.Transition) {
	if c.settled && t.To == c.state {
		c.logger.Debug("ignoring transition to current state", "state", t.To, "line", t.Line)
		return
	}
	c.evaluate(ctx, t)
}

func (c *SetbackController) evaluate(ctx context.Context, t domain.Transition) {
	logger := c.logger.With("eval", ulid.Make().String(), "to", t.To, "line", t.Line)
	logger.Info("alarm transition", "held", t.Held)

	status, err := c.thermostat.GetStatus(ctx)
	if err != nil {
		// State stays as it was so the next event gets another chance.
		logger.Error("fetching thermostat status", "error", err)
		c.settled = false
		return
	}
	logger.Debug("thermostat status",
		"mode", status.Mode,
		"hold", status.HoldActive,
		"t_heat", status.DesiredHeatSetpoint,
		"fan", status.FanMode,
	)

	c.state = t.To
	c.settled = true
	c.publish(ctx, logger, t.To)

	switch t.To {
	case domain.Armed:
		c.setback(ctx, logger, status)
	default:
		c.resume(ctx, logger, status)
	}
	c.justStarted = false
}

func (c *SetbackController) setback(ctx context.Context, logger *slog.Logger, status domain.ThermostatStatus) {
	if status.HoldActive {
		logger.Info("hold already active, leaving custom settings alone")
		return
	}
	if status.Mode != domain.ModeHeat {
		logger.Info("not heating, nothing to set back", "mode", status.Mode)
		return
	}

	setpoint, err := infra.Retry(ctx, c.cfg.SetpointRetry, func() (float64, error) {
		v, err := c.thermostat.GetTodaysSetbackSetpoint(ctx)
		if err != nil {
			logger.Warn("setback setpoint not available", "error", err)
		}
		return v, err
	})
	if err != nil {
		logger.Error("giving up on setback setpoint", "error", err)
		c.alert(ctx, logger)
		return
	}

	if err := c.thermostat.SetHoldTemperature(ctx, setpoint); err != nil {
		logger.Error("setting hold temperature", "setpoint", setpoint, "error", err)
		return
	}
	c.setAccessory(ctx, logger, false)
	logger.Info("system armed, setback applied", "setpoint", setpoint)
}

func (c *SetbackController) resume(ctx context.Context, logger *slog.Logger, status domain.ThermostatStatus) {
	if status.Mode != domain.ModeHeat {
		logger.Info("not heating, nothing to resume", "mode", status.Mode)
		return
	}
	if status.HoldActive && c.justStarted {
		logger.Info("hold found at startup, keeping it", "t_heat", status.DesiredHeatSetpoint)
		return
	}

	if err := c.thermostat.ResumeProgram(ctx); err != nil {
		// Some backends refuse to resume when no hold is set.
		logger.Warn("resuming program", "hold", status.HoldActive, "error", err)
		return
	}
	c.setAccessory(ctx, logger, true)
	logger.Info("system disarmed, program resumed")
}

func (c *SetbackController) alert(ctx context.Context, logger *slog.Logger) {
	if err := c.notifier.Alert(ctx, c.cfg.Recipient, c.cfg.AppName, c.cfg.FailureMessage); err != nil {
		logger.Error("sending alert", "error", err)
	}
}

func (c *SetbackController) setAccessory(ctx context.Context, logger *slog.Logger, on bool) {
	if c.accessory == nil {
		return
	}
	if err := c.accessory.SetAccessory(ctx, on); err != nil {
		logger.Warn("switching accessory", "on", on, "error", err)
	}
}

func (c *SetbackController) publish(ctx context.Context, logger *slog.Logger, state domain.AlarmState) {
	if err := c.publisher.PublishAlarmState(ctx, state); err != nil {
		logger.Warn("publishing alarm state", "error", err)
	}
}

// setpointRetryable retries a missing setpoint, but not a rejected authorization.
func setpointRetryable(err error) bool {
	if errors.Is(err, domain.ErrAuthorizationFailed) {
		return false
	}
	return errors.Is(err, domain.ErrSetpointUnavailable) || errors.Is(err, domain.ErrTransient)
}
