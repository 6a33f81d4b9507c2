package ecobee

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"alarm-tstat/internal/domain"
)

const (
	statusOK           = 0
	statusTokenExpired = 14

	DefaultSetbackClimate = "Away"
)

var registered = map[string]any{
	"selectionType":  "registered",
	"selectionMatch": "",
}

// Client drives an ecobee thermostat through the cloud API.
type Client struct {
	baseURL    string
	tokens     *TokenStore
	climate    string
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// NewClient creates a client. climate names the program climate whose heat
// setpoint is used for setback; empty means the coldest climate scheduled today.
func NewClient(baseURL string, tokens *TokenStore, climate string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		tokens:     tokens,
		climate:    climate,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type thermostat struct {
	Settings struct {
		HVACMode string `json:"hvacMode"`
	} `json:"settings"`
	Runtime struct {
		ActualTemperature int    `json:"actualTemperature"`
		DesiredHeat       int    `json:"desiredHeat"`
		DesiredFanMode    string `json:"desiredFanMode"`
	} `json:"runtime"`
	Events []struct {
		Type    string `json:"type"`
		Running bool   `json:"running"`
	} `json:"events"`
	Program struct {
		Schedule [][]string `json:"schedule"`
		Climates []struct {
			Name       string `json:"name"`
			ClimateRef string `json:"climateRef"`
			HeatTemp   int    `json:"heatTemp"`
		} `json:"climates"`
	} `json:"program"`
}

func (c *Client) GetStatus(ctx context.Context) (domain.ThermostatStatus, error) {
	t, err := c.thermostat(ctx)
	if err != nil {
		return domain.ThermostatStatus{}, fmt.Errorf("%w: %w", domain.ErrStatusUnavailable, err)
	}

	mode, err := toMode(t.Settings.HVACMode)
	if err != nil {
		return domain.ThermostatStatus{}, fmt.Errorf("%w: %w", domain.ErrStatusUnavailable, err)
	}

	fan := domain.FanAuto
	if t.Runtime.DesiredFanMode == "on" {
		fan = domain.FanOn
	}

	hold := false
	for _, e := range t.Events {
		if e.Type == "hold" && e.Running {
			hold = true
			break
		}
	}

	return domain.ThermostatStatus{
		Mode:                mode,
		HoldActive:          hold,
		DesiredHeatSetpoint: fromTenths(t.Runtime.DesiredHeat),
		FanMode:             fan,
		Temperature:         fromTenths(t.Runtime.ActualTemperature),
	}, nil
}

func (c *Client) GetTodaysSetbackSetpoint(ctx context.Context) (float64, error) {
	t, err := c.thermostat(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrSetpointUnavailable, err)
	}

	if c.climate != "" {
		for _, cl := range t.Program.Climates {
			if strings.EqualFold(cl.Name, c.climate) {
				return fromTenths(cl.HeatTemp), nil
			}
		}
		return 0, fmt.Errorf("%w: no climate named %q", domain.ErrSetpointUnavailable, c.climate)
	}

	// The schedule has one row per day starting Monday, each naming a climate
	// per half hour.
	day := (int(c.now().Weekday()) + 6) % 7
	if day >= len(t.Program.Schedule) {
		return 0, fmt.Errorf("%w: no schedule for day %d", domain.ErrSetpointUnavailable, day)
	}
	used := make(map[string]bool)
	for _, ref := range t.Program.Schedule[day] {
		used[ref] = true
	}

	lowest := math.MaxInt
	for _, cl := range t.Program.Climates {
		if used[cl.ClimateRef] && cl.HeatTemp < lowest {
			lowest = cl.HeatTemp
		}
	}
	if lowest == math.MaxInt {
		return 0, fmt.Errorf("%w: no climates scheduled for day %d", domain.ErrSetpointUnavailable, day)
	}
	return fromTenths(lowest), nil
}

// SetHoldTemperature sets an indefinite hold with both heat and cool points at value.
func (c *Client) SetHoldTemperature(ctx context.Context, value float64) error {
	return c.function(ctx, "setHold", map[string]any{
		"holdType":     "indefinite",
		"heatHoldTemp": toTenths(value),
		"coolHoldTemp": toTenths(value),
	})
}

// ResumeProgram clears every hold. The API rejects it when no hold is set.
func (c *Client) ResumeProgram(ctx context.Context) error {
	return c.function(ctx, "resumeProgram", map[string]any{"resumeAll": true})
}

// Alert shows message on the thermostat screen. It must be acknowledged
// there or in the app.
func (c *Client) Alert(ctx context.Context, _, _, message string) error {
	if err := c.function(ctx, "sendMessage", map[string]any{"text": message}); err != nil {
		return fmt.Errorf("sending thermostat message: %w", err)
	}
	return nil
}

func (c *Client) thermostat(ctx context.Context) (thermostat, error) {
	selection := map[string]any{
		"selection": map[string]any{
			"selectionType":   "registered",
			"selectionMatch":  "",
			"includeRuntime":  true,
			"includeSettings": true,
			"includeProgram":  true,
			"includeEvents":   true,
		},
	}

	body, err := c.call(ctx, http.MethodGet, selection)
	if err != nil {
		return thermostat{}, err
	}

	var result struct {
		ThermostatList []thermostat `json:"thermostatList"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return thermostat{}, fmt.Errorf("parsing thermostat: %w", err)
	}
	if len(result.ThermostatList) == 0 {
		return thermostat{}, fmt.Errorf("%w: no registered thermostats", domain.ErrTransient)
	}
	return result.ThermostatList[0], nil
}

func (c *Client) function(ctx context.Context, name string, params map[string]any) error {
	payload := map[string]any{
		"selection": registered,
		"functions": []map[string]any{{"type": name, "params": params}},
	}
	if _, err := c.call(ctx, http.MethodPost, payload); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// call performs an authenticated request. An expired token is refreshed once
// and the request repeated once.
func (c *Client) call(ctx context.Context, method string, payload any) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body, err := c.send(ctx, method, payload, token.AccessToken)
	if !errors.Is(err, domain.ErrAuthorizationExpired) {
		return body, err
	}

	token, err = c.tokens.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	body, err = c.send(ctx, method, payload, token.AccessToken)
	if errors.Is(err, domain.ErrAuthorizationExpired) {
		return nil, fmt.Errorf("%w: rejected after refresh: %w", domain.ErrAuthorizationFailed, err)
	}
	return body, err
}

func (c *Client) send(ctx context.Context, method string, payload any, accessToken string) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	q := url.Values{"format": {"json"}}
	var bodyReader io.Reader
	if method == http.MethodGet {
		q.Set("body", string(encoded))
	} else {
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/1/thermostat?"+q.Encode(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", domain.ErrTransient, err)
	}

	// Errors, including an expired token, come back as non-200 with a status object.
	var envelope struct {
		Status *apiStatus `json:"status"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Status == nil {
		return nil, fmt.Errorf("%w: unexpected response %d: %s", domain.ErrTransient, resp.StatusCode, string(body))
	}

	switch envelope.Status.Code {
	case statusOK:
		return body, nil
	case statusTokenExpired:
		return nil, fmt.Errorf("%w: %s", domain.ErrAuthorizationExpired, envelope.Status.Message)
	default:
		return nil, fmt.Errorf("%w: ecobee status %d: %s", domain.ErrTransient, envelope.Status.Code, envelope.Status.Message)
	}
}

func toMode(hvacMode string) (domain.Mode, error) {
	switch hvacMode {
	case "heat", "auxHeatOnly":
		return domain.ModeHeat, nil
	case "cool":
		return domain.ModeCool, nil
	case "auto":
		return domain.ModeAuto, nil
	case "off":
		return domain.ModeOff, nil
	default:
		return "", fmt.Errorf("unknown hvac mode %q", hvacMode)
	}
}

// The API reports temperatures in tenths of a degree Fahrenheit.
func fromTenths(v int) float64 {
	return float64(v) / 10
}

func toTenths(v float64) int {
	return int(math.Round(v * 10))
}
