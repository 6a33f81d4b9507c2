package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"alarm-tstat/config"
	"alarm-tstat/internal/application"
	"alarm-tstat/internal/domain"
	"alarm-tstat/internal/infra"
	"alarm-tstat/internal/infra/ecobee"
	"alarm-tstat/internal/infra/homeassistant"
	"alarm-tstat/internal/infra/mailtrap"
	"alarm-tstat/internal/infra/pushover"
	"alarm-tstat/internal/infra/radiotherm"
	"alarm-tstat/internal/infra/signal"
)

// parseDuration falls back to def, with a warning, when value is not a duration.
func parseDuration(logger *slog.Logger, name, value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("invalid duration, using default", "setting", name, "value", value, "default", def, "error", err)
		return def
	}
	return d
}

type thermostat struct {
	client application.ThermostatClient
	// tokens is set for the cloud backend only.
	tokens *ecobee.TokenStore
}

func buildThermostat(cfg config.ThermostatConfig, fs afero.Fs, logger *slog.Logger) (thermostat, error) {
	switch cfg.Backend {
	case "local":
		interval := parseDuration(logger, "thermostat.local.request_interval", cfg.Local.RequestInterval, 500*time.Millisecond)
		retry := infra.RetryConfig{
			MaxAttempts: cfg.Local.RequestAttempts,
			Backoff:     infra.ExponentialBackoff(250*time.Millisecond, 2*time.Second, 2.0),
			Retryable:   func(err error) bool { return errors.Is(err, domain.ErrTransient) },
		}
		client := radiotherm.NewClient(cfg.Local.BaseURL,
			radiotherm.WithRequestInterval(interval),
			radiotherm.WithRetry(retry),
		)
		return thermostat{client: client}, nil

	case "cloud":
		tokens := ecobee.NewTokenStore(fs, cfg.Cloud.TokenFile, cfg.Cloud.APIKey, cfg.Cloud.AuthCode, cfg.Cloud.BaseURL)
		client := ecobee.NewClient(cfg.Cloud.BaseURL, tokens, cfg.Cloud.SetbackClimate)
		return thermostat{client: client, tokens: tokens}, nil

	default:
		return thermostat{}, fmt.Errorf("unknown thermostat backend %q", cfg.Backend)
	}
}

func buildNotifier(cfg config.NotifyConfig, tstat application.ThermostatClient) (application.Notifier, error) {
	switch cfg.Provider {
	case "pushover":
		return pushover.NewClient(cfg.Pushover.Token, cfg.Pushover.UserKey), nil
	case "mailtrap":
		return mailtrap.NewClient(mailtrap.Config{
			Token:         cfg.Mailtrap.Token,
			FromEmail:     cfg.Mailtrap.FromEmail,
			FromName:      cfg.Mailtrap.FromName,
			CarrierDomain: cfg.Mailtrap.CarrierDomain,
			SMS:           cfg.Mailtrap.SMS,
		}), nil
	case "thermostat":
		n, ok := tstat.(application.Notifier)
		if !ok {
			return nil, errors.New("thermostat backend cannot display messages")
		}
		return n, nil
	case "none", "":
		return &application.NoopNotifier{}, nil
	default:
		return nil, fmt.Errorf("unknown notify provider %q", cfg.Provider)
	}
}

func buildPublisher(cfg config.HomeAssistantConfig) application.StatePublisher {
	if !cfg.Enabled {
		return &application.NoopPublisher{}
	}
	return homeassistant.NewClient(cfg.URL, cfg.Token, cfg.EntityID)
}

// buildLines maps the configured relay lines onto the debouncer's and the
// signal sources' views of them.
func buildLines(lines []config.LineConfig) ([]application.LineConfig, []signal.Line) {
	debounce := make([]application.LineConfig, 0, len(lines))
	relay := make([]signal.Line, 0, len(lines))
	for _, l := range lines {
		role := application.LineRole(l.Role)
		debounce = append(debounce, application.LineConfig{Name: l.Name, Role: role, ActiveHigh: l.ActiveHigh})
		relay = append(relay, signal.Line{
			Name:            l.Name,
			Pin:             l.Pin,
			ActiveHigh:      l.ActiveHigh,
			ArmedWhenActive: role != application.RoleDisarmed,
		})
	}
	return debounce, relay
}

func buildSource(cfg config.SignalConfig, lines []signal.Line, fs afero.Fs, logger *slog.Logger) (application.SignalSource, error) {
	switch cfg.Source {
	case "gpio":
		poll := parseDuration(logger, "signal.gpio.poll_interval", cfg.GPIO.PollInterval, 50*time.Millisecond)
		return signal.NewGPIOSource(fs, cfg.GPIO.BaseDir, lines, poll, logger), nil
	case "http":
		return signal.NewHTTPSource(cfg.HTTP.Addr, cfg.HTTP.AuthToken, lines, rate.Limit(cfg.HTTP.RateLimit), cfg.HTTP.RateBurst, logger), nil
	case "console":
		return signal.NewConsoleSource(os.Stdin, os.Stdout, lines, logger), nil
	default:
		return nil, fmt.Errorf("unknown signal source %q", cfg.Source)
	}
}

func controllerConfig(cfg *config.Config, logger *slog.Logger) application.ControllerConfig {
	interval := parseDuration(logger, "controller.setpoint_retry_interval", cfg.Controller.SetpointRetryInterval, 5*time.Second)
	return application.ControllerConfig{
		SetpointRetry: infra.RetryConfig{
			MaxAttempts: cfg.Controller.SetpointAttempts,
			Backoff:     infra.LinearBackoff(interval),
		},
		Recipient:      cfg.Notify.Recipient,
		AppName:        cfg.Notify.AppName,
		FailureMessage: cfg.Notify.FailureMessage,
	}
}
