package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarm-tstat/config"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`
thermostat:
  local:
    base_url: http://192.168.1.50
`))
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Thermostat.Backend)
	assert.Equal(t, "gpio", cfg.Signal.Source)
	assert.Equal(t, "5s", cfg.Signal.HoldTime)
	assert.Equal(t, []config.LineConfig{
		{Name: "armed", Pin: 15, Role: "armed", ActiveHigh: true},
		{Name: "disarmed", Pin: 17, Role: "disarmed", ActiveHigh: false},
	}, cfg.Signal.Lines)
	assert.Equal(t, 5, cfg.Controller.SetpointAttempts)
	assert.Equal(t, "5s", cfg.Controller.SetpointRetryInterval)
	assert.Equal(t, "none", cfg.Notify.Provider)
	assert.Equal(t, config.DefaultAppName, cfg.Notify.AppName)
	assert.Equal(t, config.DefaultFailureMessage, cfg.Notify.FailureMessage)
	assert.Equal(t, "Away", cfg.Thermostat.Cloud.SetbackClimate)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestParse_ExpandsEnvironment(t *testing.T) {
	t.Setenv("ECOBEE_API_KEY", "key-from-env")
	t.Setenv("PUSHOVER_TOKEN", "po-token")

	cfg, err := config.Parse([]byte(`
thermostat:
  backend: cloud
  cloud:
    api_key: ${ECOBEE_API_KEY}
notify:
  provider: pushover
  pushover:
    token: $PUSHOVER_TOKEN
`))
	require.NoError(t, err)

	assert.Equal(t, "key-from-env", cfg.Thermostat.Cloud.APIKey)
	assert.Equal(t, "po-token", cfg.Notify.Pushover.Token)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown backend",
			yaml: "thermostat: {backend: zigbee}",
			want: "unknown backend",
		},
		{
			name: "local without url",
			yaml: "thermostat: {backend: local}",
			want: "base_url is required",
		},
		{
			name: "unknown source",
			yaml: "thermostat: {local: {base_url: http://t}}\nsignal: {source: serial}",
			want: "unknown source",
		},
		{
			name: "bad role",
			yaml: "thermostat: {local: {base_url: http://t}}\nsignal: {lines: [{name: a, pin: 4, role: sometimes}]}",
			want: "unknown role",
		},
		{
			name: "duplicate lines",
			yaml: "thermostat: {local: {base_url: http://t}}\nsignal: {lines: [{name: a, role: level}, {name: a, role: level}]}",
			want: "duplicate name",
		},
		{
			name: "thermostat notifier on local backend",
			yaml: "thermostat: {local: {base_url: http://t}}\nnotify: {provider: thermostat}",
			want: "needs the cloud backend",
		},
		{
			name: "unknown log level",
			yaml: "thermostat: {local: {base_url: http://t}}\nlog: {level: chatty}",
			want: "unknown level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
thermostat:
  backend: local
  local:
    base_url: http://thermostat.lan
signal:
  source: console
  hold_time: 2s
homeassistant:
  enabled: true
  url: http://ha.lan:8123
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "console", cfg.Signal.Source)
	assert.Equal(t, "2s", cfg.Signal.HoldTime)
	assert.True(t, cfg.HomeAssistant.Enabled)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
