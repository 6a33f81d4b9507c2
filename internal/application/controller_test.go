package application_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarm-tstat/internal/application"
	"alarm-tstat/internal/domain"
	"alarm-tstat/internal/infra"
)

const failureMessage = "Unable to set thermostat back."

type fakeThermostat struct {
	status    domain.ThermostatStatus
	statusErr error

	setpoints   []float64
	setpointErr []error
	setpointN   int

	holdErr   error
	resumeErr error

	statusCalls int
	holds       []float64
	resumes     int
}

func (f *fakeThermostat) GetStatus(_ context.Context) (domain.ThermostatStatus, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return domain.ThermostatStatus{}, f.statusErr
	}
	return f.status, nil
}

func (f *fakeThermostat) GetTodaysSetbackSetpoint(_ context.Context) (float64, error) {
	i := f.setpointN
	f.setpointN++
	if i < len(f.setpointErr) && f.setpointErr[i] != nil {
		return 0, f.setpointErr[i]
	}
	if i < len(f.setpoints) {
		return f.setpoints[i], nil
	}
	if len(f.setpoints) > 0 {
		return f.setpoints[len(f.setpoints)-1], nil
	}
	return 0, domain.ErrSetpointUnavailable
}

func (f *fakeThermostat) SetHoldTemperature(_ context.Context, value float64) error {
	f.holds = append(f.holds, value)
	return f.holdErr
}

func (f *fakeThermostat) ResumeProgram(_ context.Context) error {
	f.resumes++
	return f.resumeErr
}

func (f *fakeThermostat) mutations() int {
	return len(f.holds) + f.resumes
}

type fakeNightLight struct {
	fakeThermostat
	switched []bool
}

func (f *fakeNightLight) SetAccessory(_ context.Context, on bool) error {
	f.switched = append(f.switched, on)
	return nil
}

type recordingNotifier struct {
	alerts []string
	err    error
}

func (r *recordingNotifier) Alert(_ context.Context, recipient, appName, message string) error {
	r.alerts = append(r.alerts, fmt.Sprintf("%s|%s|%s", recipient, appName, message))
	return r.err
}

type recordingPublisher struct {
	states []domain.AlarmState
}

func (r *recordingPublisher) PublishAlarmState(_ context.Context, s domain.AlarmState) error {
	r.states = append(r.states, s)
	return nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newController(t *testing.T, tstat application.ThermostatClient, notifier application.Notifier, publisher application.StatePublisher, attempts int) *application.SetbackController {
	t.Helper()
	return application.NewSetbackController(tstat, notifier, publisher, application.ControllerConfig{
		SetpointRetry: infra.RetryConfig{
			MaxAttempts: attempts,
			Backoff:     infra.LinearBackoff(5 * time.Second),
			Sleep:       noSleep,
		},
		Recipient:      "5551234567",
		AppName:        "Alarm T-stat Control",
		FailureMessage: failureMessage,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func armed() domain.Transition {
	return domain.Transition{To: domain.Armed, Line: "armed", Held: 5 * time.Second}
}

func disarmed() domain.Transition {
	return domain.Transition{To: domain.Disarmed, Line: "disarmed", Held: 5 * time.Second}
}

func heating(hold bool) domain.ThermostatStatus {
	return domain.ThermostatStatus{Mode: domain.ModeHeat, HoldActive: hold, DesiredHeatSetpoint: 68, FanMode: domain.FanAuto}
}

func TestController_ArmedSetsHoldToSetback(t *testing.T) {
	tstat := &fakeThermostat{status: heating(false), setpoints: []float64{55}}
	notifier := &recordingNotifier{}
	c := newController(t, tstat, notifier, nil, 3)

	c.OnTransition(context.Background(), armed())

	assert.Equal(t, []float64{55}, tstat.holds)
	assert.Empty(t, notifier.alerts)
	assert.Equal(t, domain.Armed, c.State())
	assert.False(t, c.JustStarted())
}

func TestController_SetpointRetryExhaustedAlertsOnce(t *testing.T) {
	tstat := &fakeThermostat{
		status: heating(false),
		setpointErr: []error{
			domain.ErrSetpointUnavailable,
			domain.ErrSetpointUnavailable,
			domain.ErrSetpointUnavailable,
		},
	}
	notifier := &recordingNotifier{}
	c := newController(t, tstat, notifier, nil, 3)

	c.OnTransition(context.Background(), armed())

	assert.Equal(t, 3, tstat.setpointN)
	assert.Empty(t, tstat.holds)
	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, "5551234567|Alarm T-stat Control|"+failureMessage, notifier.alerts[0])
	assert.False(t, c.JustStarted())
}

func TestController_SetpointAvailableOnLaterAttempt(t *testing.T) {
	tstat := &fakeThermostat{
		status:      heating(false),
		setpointErr: []error{domain.ErrSetpointUnavailable, domain.ErrSetpointUnavailable},
		setpoints:   []float64{0, 0, 58},
	}
	notifier := &recordingNotifier{}
	c := newController(t, tstat, notifier, nil, 5)

	c.OnTransition(context.Background(), armed())

	assert.Equal(t, 3, tstat.setpointN)
	assert.Equal(t, []float64{58}, tstat.holds)
	assert.Empty(t, notifier.alerts)
}

func TestController_AuthorizationFailureIsNotRetried(t *testing.T) {
	authErr := fmt.Errorf("%w: %w", domain.ErrSetpointUnavailable, domain.ErrAuthorizationFailed)
	tstat := &fakeThermostat{
		status:      heating(false),
		setpointErr: []error{authErr, authErr, authErr},
	}
	notifier := &recordingNotifier{}
	c := newController(t, tstat, notifier, nil, 3)

	c.OnTransition(context.Background(), armed())

	assert.Equal(t, 1, tstat.setpointN)
	assert.Empty(t, tstat.holds)
	assert.Len(t, notifier.alerts, 1)
}

func TestController_UnreachableTokenEndpointIsRetried(t *testing.T) {
	netErr := fmt.Errorf("%w: requesting token: %w: sending request: connection refused", domain.ErrSetpointUnavailable, domain.ErrTransient)
	tstat := &fakeThermostat{
		status:      heating(false),
		setpointErr: []error{netErr, netErr},
		setpoints:   []float64{0, 0, 57},
	}
	notifier := &recordingNotifier{}
	c := newController(t, tstat, notifier, nil, 5)

	c.OnTransition(context.Background(), armed())

	assert.Equal(t, 3, tstat.setpointN)
	assert.Equal(t, []float64{57}, tstat.holds)
	assert.Empty(t, notifier.alerts)
}

func TestController_RepeatedArmedIsIdempotent(t *testing.T) {
	tstat := &fakeThermostat{status: heating(false), setpoints: []float64{55}}
	c := newController(t, tstat, &recordingNotifier{}, nil, 3)

	c.OnTransition(context.Background(), armed())
	tstat.status = heating(true)
	c.OnTransition(context.Background(), armed())

	assert.Equal(t, []float64{55}, tstat.holds)
}

func TestController_ArmedWithForeignHoldDoesNothing(t *testing.T) {
	tstat := &fakeNightLight{fakeThermostat: fakeThermostat{status: heating(true), setpoints: []float64{55}}}
	c := newController(t, tstat, &recordingNotifier{}, nil, 3)

	c.OnTransition(context.Background(), armed())

	assert.Equal(t, 0, tstat.mutations())
	assert.Equal(t, 0, tstat.setpointN)
	assert.Empty(t, tstat.switched, "side effects are suppressed with the action")
	assert.Equal(t, domain.Armed, c.State())
	assert.False(t, c.JustStarted())
}

func TestController_StartupKeepsManualHold(t *testing.T) {
	tstat := &fakeThermostat{status: heating(true)}
	c := newController(t, tstat, &recordingNotifier{}, nil, 3)
	require.True(t, c.JustStarted())

	c.Start(context.Background())

	assert.Equal(t, 0, tstat.resumes)
	assert.False(t, c.JustStarted())
	assert.Equal(t, domain.Disarmed, c.State())
}

func TestController_DisarmAfterStartupResumesHold(t *testing.T) {
	tstat := &fakeThermostat{status: heating(true)}
	c := newController(t, tstat, &recordingNotifier{}, nil, 3)

	c.Start(context.Background())
	c.OnTransition(context.Background(), armed())
	c.OnTransition(context.Background(), disarmed())

	assert.Equal(t, 1, tstat.resumes)
	assert.Empty(t, tstat.holds)
}

func TestController_StartupResumesWithoutHold(t *testing.T) {
	tstat := &fakeThermostat{status: heating(false)}
	c := newController(t, tstat, &recordingNotifier{}, nil, 3)

	c.Start(context.Background())

	assert.Equal(t, 1, tstat.resumes)
}

func TestController_DisarmedAtBootIsNoOpAfterStartup(t *testing.T) {
	tstat := &fakeThermostat{status: heating(false)}
	c := newController(t, tstat, &recordingNotifier{}, nil, 3)

	c.Start(context.Background())
	c.OnTransition(context.Background(), disarmed())

	assert.Equal(t, 1, tstat.statusCalls)
	assert.Equal(t, 1, tstat.resumes)
}

func TestController_NonHeatingModesNeverMutate(t *testing.T) {
	for _, mode := range []domain.Mode{domain.ModeOff, domain.ModeCool, domain.ModeAuto} {
		t.Run(string(mode), func(t *testing.T) {
			for _, hold := range []bool{false, true} {
				tstat := &fakeNightLight{fakeThermostat: fakeThermostat{
					status:    domain.ThermostatStatus{Mode: mode, HoldActive: hold},
					setpoints: []float64{55},
				}}
				c := newController(t, tstat, &recordingNotifier{}, nil, 3)

				c.Start(context.Background())
				c.OnTransition(context.Background(), armed())
				c.OnTransition(context.Background(), disarmed())

				assert.Equal(t, 0, tstat.mutations(), "hold=%v", hold)
				assert.Empty(t, tstat.switched)
				assert.Equal(t, domain.Disarmed, c.State())
			}
		})
	}
}

func TestController_StatusFailureKeepsState(t *testing.T) {
	tstat := &fakeThermostat{statusErr: domain.ErrStatusUnavailable, setpoints: []float64{55}}
	notifier := &recordingNotifier{}
	c := newController(t, tstat, notifier, nil, 3)

	c.OnTransition(context.Background(), armed())

	assert.Equal(t, domain.Disarmed, c.State())
	assert.True(t, c.JustStarted())
	assert.Equal(t, 0, tstat.mutations())
	assert.Empty(t, notifier.alerts)

	tstat.statusErr = nil
	tstat.status = heating(false)
	c.OnTransition(context.Background(), armed())

	assert.Equal(t, []float64{55}, tstat.holds)
	assert.Equal(t, domain.Armed, c.State())
}

func TestController_ResumeFailureIsAbsorbed(t *testing.T) {
	tstat := &fakeThermostat{status: heating(false), setpoints: []float64{55}, resumeErr: errors.New("no hold to resume")}
	notifier := &recordingNotifier{}
	c := newController(t, tstat, notifier, nil, 3)

	c.Start(context.Background())
	c.OnTransition(context.Background(), armed())
	c.OnTransition(context.Background(), disarmed())

	assert.Equal(t, 2, tstat.resumes)
	assert.Empty(t, notifier.alerts)
	assert.Equal(t, domain.Disarmed, c.State())
}

func TestController_HoldFailureIsNotAlerted(t *testing.T) {
	tstat := &fakeThermostat{status: heating(false), setpoints: []float64{55}, holdErr: errors.New("device busy")}
	notifier := &recordingNotifier{}
	c := newController(t, tstat, notifier, nil, 3)

	c.OnTransition(context.Background(), armed())

	assert.Equal(t, []float64{55}, tstat.holds)
	assert.Empty(t, notifier.alerts)
}

func TestController_NightLightFollowsAlarm(t *testing.T) {
	tstat := &fakeNightLight{fakeThermostat: fakeThermostat{status: heating(false), setpoints: []float64{55}}}
	c := newController(t, tstat, &recordingNotifier{}, nil, 3)

	c.OnTransition(context.Background(), armed())
	c.OnTransition(context.Background(), disarmed())

	assert.Equal(t, []bool{false, true}, tstat.switched)
}

func TestController_PublishesAcceptedStates(t *testing.T) {
	tstat := &fakeThermostat{status: heating(false), setpoints: []float64{55}}
	publisher := &recordingPublisher{}
	c := newController(t, tstat, &recordingNotifier{}, publisher, 3)

	c.Start(context.Background())
	c.OnTransition(context.Background(), armed())
	c.OnTransition(context.Background(), armed())
	c.OnTransition(context.Background(), disarmed())

	assert.Equal(t, []domain.AlarmState{domain.Disarmed, domain.Armed, domain.Disarmed}, publisher.states)
}

func TestController_NotifierErrorIsSwallowed(t *testing.T) {
	tstat := &fakeThermostat{status: heating(false)}
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	c := newController(t, tstat, notifier, nil, 2)

	c.OnTransition(context.Background(), armed())

	assert.Len(t, notifier.alerts, 1)
	assert.Equal(t, domain.Armed, c.State())
}
