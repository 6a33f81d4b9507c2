package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAppName        = "Alarm T-stat Control"
	DefaultFailureMessage = "Unable to set thermostat back.  You'll have to do it via smartphone app.  Sorry."
)

type Config struct {
	Thermostat    ThermostatConfig    `yaml:"thermostat"`
	Signal        SignalConfig        `yaml:"signal"`
	Controller    ControllerConfig    `yaml:"controller"`
	Notify        NotifyConfig        `yaml:"notify"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Log           LogConfig           `yaml:"log"`
}

type ThermostatConfig struct {
	Backend string      `yaml:"backend"`
	Local   LocalConfig `yaml:"local"`
	Cloud   CloudConfig `yaml:"cloud"`
}

// LocalConfig is a Radio Thermostat on the LAN.
type LocalConfig struct {
	BaseURL         string `yaml:"base_url"`
	RequestInterval string `yaml:"request_interval"`
	RequestAttempts int    `yaml:"request_attempts"`
}

// CloudConfig is an ecobee reached through its cloud API.
type CloudConfig struct {
	APIKey         string `yaml:"api_key"`
	AuthCode       string `yaml:"auth_code"`
	BaseURL        string `yaml:"base_url"`
	TokenFile      string `yaml:"token_file"`
	SetbackClimate string `yaml:"setback_climate"`
}

type SignalConfig struct {
	Source   string       `yaml:"source"`
	HoldTime string       `yaml:"hold_time"`
	Lines    []LineConfig `yaml:"lines"`
	GPIO     GPIOConfig   `yaml:"gpio"`
	HTTP     HTTPConfig   `yaml:"http"`
}

type LineConfig struct {
	Name string `yaml:"name"`
	Pin  int    `yaml:"pin"`
	// Role is armed, disarmed or level.
	Role       string `yaml:"role"`
	ActiveHigh bool   `yaml:"active_high"`
}

type GPIOConfig struct {
	BaseDir      string `yaml:"base_dir"`
	PollInterval string `yaml:"poll_interval"`
}

type HTTPConfig struct {
	Addr      string  `yaml:"addr"`
	AuthToken string  `yaml:"auth_token"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

type ControllerConfig struct {
	SetpointAttempts      int    `yaml:"setpoint_attempts"`
	SetpointRetryInterval string `yaml:"setpoint_retry_interval"`
	KeepaliveInterval     string `yaml:"keepalive_interval"`
}

type NotifyConfig struct {
	Provider       string         `yaml:"provider"`
	Recipient      string         `yaml:"recipient"`
	AppName        string         `yaml:"app_name"`
	FailureMessage string         `yaml:"failure_message"`
	Pushover       PushoverConfig `yaml:"pushover"`
	Mailtrap       MailtrapConfig `yaml:"mailtrap"`
}

type PushoverConfig struct {
	Token   string `yaml:"token"`
	UserKey string `yaml:"user_key"`
}

type MailtrapConfig struct {
	Token         string `yaml:"token"`
	FromEmail     string `yaml:"from_email"`
	FromName      string `yaml:"from_name"`
	CarrierDomain string `yaml:"carrier_domain"`
	SMS           bool   `yaml:"sms"`
}

type HomeAssistantConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
	EntityID string `yaml:"entity_id"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it and applies defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Thermostat.Backend == "" {
		c.Thermostat.Backend = "local"
	}
	if c.Thermostat.Local.RequestInterval == "" {
		c.Thermostat.Local.RequestInterval = "500ms"
	}
	if c.Thermostat.Local.RequestAttempts == 0 {
		c.Thermostat.Local.RequestAttempts = 3
	}
	if c.Thermostat.Cloud.TokenFile == "" {
		c.Thermostat.Cloud.TokenFile = "token_storage.txt"
	}
	if c.Thermostat.Cloud.SetbackClimate == "" {
		c.Thermostat.Cloud.SetbackClimate = "Away"
	}

	if c.Signal.Source == "" {
		c.Signal.Source = "gpio"
	}
	if c.Signal.HoldTime == "" {
		c.Signal.HoldTime = "5s"
	}
	if len(c.Signal.Lines) == 0 {
		// Normally-open contact closes to 3.3V when armed; normally-closed
		// contact holds the pulled-up pin low while disarmed.
		c.Signal.Lines = []LineConfig{
			{Name: "armed", Pin: 15, Role: "armed", ActiveHigh: true},
			{Name: "disarmed", Pin: 17, Role: "disarmed", ActiveHigh: false},
		}
	}
	if c.Signal.GPIO.BaseDir == "" {
		c.Signal.GPIO.BaseDir = "/sys/class/gpio"
	}
	if c.Signal.GPIO.PollInterval == "" {
		c.Signal.GPIO.PollInterval = "50ms"
	}
	if c.Signal.HTTP.Addr == "" {
		c.Signal.HTTP.Addr = ":8080"
	}
	if c.Signal.HTTP.RateLimit == 0 {
		c.Signal.HTTP.RateLimit = 1
	}
	if c.Signal.HTTP.RateBurst == 0 {
		c.Signal.HTTP.RateBurst = 5
	}

	if c.Controller.SetpointAttempts == 0 {
		c.Controller.SetpointAttempts = 5
	}
	if c.Controller.SetpointRetryInterval == "" {
		c.Controller.SetpointRetryInterval = "5s"
	}
	if c.Controller.KeepaliveInterval == "" {
		c.Controller.KeepaliveInterval = "1m"
	}

	if c.Notify.Provider == "" {
		c.Notify.Provider = "none"
	}
	if c.Notify.AppName == "" {
		c.Notify.AppName = DefaultAppName
	}
	if c.Notify.FailureMessage == "" {
		c.Notify.FailureMessage = DefaultFailureMessage
	}
	if c.Notify.Mailtrap.CarrierDomain == "" {
		c.Notify.Mailtrap.CarrierDomain = "txt.att.net"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the enumerated fields and the settings each choice needs.
func (c *Config) Validate() error {
	var errs []error

	switch c.Thermostat.Backend {
	case "local":
		if c.Thermostat.Local.BaseURL == "" {
			errs = append(errs, errors.New("thermostat.local.base_url is required for the local backend"))
		}
	case "cloud":
		if c.Thermostat.Cloud.APIKey == "" {
			errs = append(errs, errors.New("thermostat.cloud.api_key is required for the cloud backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("thermostat.backend: unknown backend %q", c.Thermostat.Backend))
	}

	switch c.Signal.Source {
	case "gpio", "http", "console":
	default:
		errs = append(errs, fmt.Errorf("signal.source: unknown source %q", c.Signal.Source))
	}

	seen := make(map[string]bool, len(c.Signal.Lines))
	for i, l := range c.Signal.Lines {
		if l.Name == "" {
			errs = append(errs, fmt.Errorf("signal.lines[%d]: name is required", i))
		}
		if seen[l.Name] {
			errs = append(errs, fmt.Errorf("signal.lines[%d]: duplicate name %q", i, l.Name))
		}
		seen[l.Name] = true
		switch l.Role {
		case "armed", "disarmed", "level":
		default:
			errs = append(errs, fmt.Errorf("signal.lines[%d]: unknown role %q", i, l.Role))
		}
	}

	switch c.Notify.Provider {
	case "none":
	case "pushover":
		if c.Notify.Pushover.Token == "" {
			errs = append(errs, errors.New("notify.pushover.token is required"))
		}
	case "mailtrap":
		if c.Notify.Mailtrap.Token == "" || c.Notify.Recipient == "" {
			errs = append(errs, errors.New("notify.mailtrap.token and notify.recipient are required"))
		}
	case "thermostat":
		if c.Thermostat.Backend != "cloud" {
			errs = append(errs, errors.New("notify.provider thermostat needs the cloud backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.provider: unknown provider %q", c.Notify.Provider))
	}

	if c.HomeAssistant.Enabled && c.HomeAssistant.URL == "" {
		errs = append(errs, errors.New("homeassistant.url is required when enabled"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}
