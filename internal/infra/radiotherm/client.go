package radiotherm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"alarm-tstat/internal/domain"
	"alarm-tstat/internal/infra"
)

const (
	tmodeOff  = 0
	tmodeHeat = 1
	tmodeCool = 2
	tmodeAuto = 3

	fmodeOn = 2

	holdDisabled = 0
	holdEnabled  = 1

	saveEnergyEnable  = 1
	saveEnergyDisable = 0

	nightLightOff = 0
	nightLightOn  = 4
)

// Client talks to a Radio Thermostat (CT30/CT50/CT80) over its local JSON API.
// The device serves one request at a time, so requests are paced.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      infra.RetryConfig
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithRequestInterval sets the minimum spacing between requests. Zero disables pacing.
func WithRequestInterval(d time.Duration) Option {
	return func(cl *Client) {
		if d <= 0 {
			cl.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		cl.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

func WithRetry(cfg infra.RetryConfig) Option {
	return func(cl *Client) { cl.retry = cfg }
}

func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		retry:      infra.DefaultRetryConfig(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tstatResponse struct {
	Temp  float64 `json:"temp"`
	Tmode int     `json:"tmode"`
	Fmode int     `json:"fmode"`
	Hold  int     `json:"hold"`
	THeat float64 `json:"t_heat"`
}

func (c *Client) GetStatus(ctx context.Context) (domain.ThermostatStatus, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/tstat", nil)
	if err != nil {
		return domain.ThermostatStatus{}, fmt.Errorf("%w: %w", domain.ErrStatusUnavailable, err)
	}

	var t tstatResponse
	if err := json.Unmarshal(resp, &t); err != nil {
		return domain.ThermostatStatus{}, fmt.Errorf("%w: parsing tstat: %w", domain.ErrStatusUnavailable, err)
	}

	mode, err := toMode(t.Tmode)
	if err != nil {
		return domain.ThermostatStatus{}, fmt.Errorf("%w: %w", domain.ErrStatusUnavailable, err)
	}

	fan := domain.FanAuto
	if t.Fmode == fmodeOn {
		fan = domain.FanOn
	}

	return domain.ThermostatStatus{
		Mode:                mode,
		HoldActive:          t.Hold == holdEnabled,
		DesiredHeatSetpoint: t.THeat,
		FanMode:             fan,
		Temperature:         t.Temp,
	}, nil
}

// GetTodaysSetbackSetpoint returns the lowest heat setpoint in today's program.
func (c *Client) GetTodaysSetbackSetpoint(ctx context.Context) (float64, error) {
	// The device numbers days from Monday.
	day := (int(c.now().Weekday()) + 6) % 7

	path := fmt.Sprintf("/tstat/program/heat/%d", day)
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrSetpointUnavailable, err)
	}

	var program map[string][]float64
	if err := json.Unmarshal(resp, &program); err != nil {
		return 0, fmt.Errorf("%w: parsing program: %w", domain.ErrSetpointUnavailable, err)
	}

	// Entries alternate minutes-after-midnight and temperature.
	periods := program[fmt.Sprintf("%d", day)]
	lowest := math.Inf(1)
	for i := 1; i < len(periods); i += 2 {
		lowest = math.Min(lowest, periods[i])
	}
	if math.IsInf(lowest, 1) {
		return 0, fmt.Errorf("%w: no heat program for day %d", domain.ErrSetpointUnavailable, day)
	}

	return lowest, nil
}

func (c *Client) SetHoldTemperature(ctx context.Context, value float64) error {
	body := map[string]any{"t_heat": value, "hold": holdEnabled}
	if err := c.post(ctx, "/tstat", body); err != nil {
		return fmt.Errorf("setting hold: %w", err)
	}
	return nil
}

// ResumeProgram drops the hold, then toggles save-energy mode, which makes the
// device pick up the current program period again.
func (c *Client) ResumeProgram(ctx context.Context) error {
	if err := c.post(ctx, "/tstat", map[string]any{"hold": holdDisabled}); err != nil {
		return fmt.Errorf("disabling hold: %w", err)
	}
	if err := c.post(ctx, "/tstat/save_energy", map[string]any{"mode": saveEnergyEnable}); err != nil {
		return fmt.Errorf("enabling save energy mode: %w", err)
	}
	if err := c.post(ctx, "/tstat/save_energy", map[string]any{"mode": saveEnergyDisable}); err != nil {
		return fmt.Errorf("disabling save energy mode: %w", err)
	}
	return nil
}

// SetAccessory switches the night light.
func (c *Client) SetAccessory(ctx context.Context, on bool) error {
	intensity := nightLightOff
	if on {
		intensity = nightLightOn
	}
	if err := c.post(ctx, "/tstat/night_light", map[string]any{"intensity": intensity}); err != nil {
		return fmt.Errorf("setting night light: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}

	var result struct {
		Success *int `json:"success"`
		Error   *int `json:"error"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if result.Error != nil || result.Success == nil {
		return fmt.Errorf("thermostat rejected %s: %s", path, string(resp))
	}
	return nil
}

// doRequest treats every failure as transient; the retry budget decides when to stop.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var respBody []byte

	retryErr := infra.WithRetry(ctx, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: sending request: %w", domain.ErrTransient, err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: reading response: %w", domain.ErrTransient, err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("%w: thermostat returned %d: %s", domain.ErrTransient, resp.StatusCode, string(respBody))
		}

		return nil
	})

	if retryErr != nil {
		return nil, retryErr
	}

	return respBody, nil
}

func toMode(tmode int) (domain.Mode, error) {
	switch tmode {
	case tmodeOff:
		return domain.ModeOff, nil
	case tmodeHeat:
		return domain.ModeHeat, nil
	case tmodeCool:
		return domain.ModeCool, nil
	case tmodeAuto:
		return domain.ModeAuto, nil
	default:
		return "", fmt.Errorf("unknown tmode %d", tmode)
	}
}
