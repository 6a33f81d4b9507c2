package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"alarm-tstat/internal/domain"
	"alarm-tstat/internal/infra"
)

const DefaultEntityID = "binary_sensor.alarm_armed"

// Client mirrors the alarm state into a Home Assistant entity through the REST API.
type Client struct {
	baseURL    string
	token      string
	entityID   string
	httpClient *http.Client
	retry      infra.RetryConfig
}

type Option func(*Client)

// WithRetry replaces the retry budget. Its Retryable predicate is always
// the client's own.
func WithRetry(cfg infra.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

func NewClient(baseURL, token, entityID string, opts ...Option) *Client {
	if entityID == "" {
		entityID = DefaultEntityID
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		entityID:   entityID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retry:      infra.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.Retryable = isTransient
	return c
}

func isTransient(err error) bool {
	return errors.Is(err, domain.ErrTransient)
}

// Entity represents a Home Assistant entity
type Entity struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed"`
}

// PublishAlarmState sets the entity to "on" while armed and "off" while disarmed.
func (c *Client) PublishAlarmState(ctx context.Context, state domain.AlarmState) error {
	value := "off"
	if state == domain.Armed {
		value = "on"
	}

	body, err := json.Marshal(map[string]any{
		"state": value,
		"attributes": map[string]any{
			"friendly_name": "Alarm armed",
			"device_class":  "safety",
			"alarm_state":   state.String(),
		},
	})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	if _, err := c.doRequest(ctx, http.MethodPost, "/api/states/"+c.entityID, body); err != nil {
		return fmt.Errorf("publishing alarm state: %w", err)
	}
	return nil
}

// GetState reads back the published entity.
func (c *Client) GetState(ctx context.Context) (Entity, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/states/"+c.entityID, nil)
	if err != nil {
		return Entity{}, fmt.Errorf("fetching state: %w", err)
	}

	var e Entity
	if err := json.Unmarshal(resp, &e); err != nil {
		return Entity{}, fmt.Errorf("parsing state: %w", err)
	}
	return e, nil
}

// doRequest retries transport failures and 429/5xx answers; any other
// error status, 401 included, fails on the first attempt.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	return infra.Retry(ctx, c.retry, func() ([]byte, error) {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: sending request: %w", domain.ErrTransient, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: reading response: %w", domain.ErrTransient, err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, errors.New("unauthorized: check the Home Assistant token")
		case infra.IsRetryableHTTPStatus(resp.StatusCode):
			return nil, fmt.Errorf("%w: home assistant returned %d: %s", domain.ErrTransient, resp.StatusCode, respBody)
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("home assistant returned %d: %s", resp.StatusCode, respBody)
		}
		return respBody, nil
	})
}
