package mailtrap

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

	"alarm-tstat/internal/infra"
)

const defaultURL = "https://send.api.mailtrap.io/api/send"

var errRetryable = errors.New("retryable mailtrap status")

type Config struct {
	Token     string
	FromEmail string
	FromName  string
	// CarrierDomain turns a phone number into an SMS gateway address when SMS is set.
	CarrierDomain string
	SMS           bool
}

// Client sends alerts through the Mailtrap sending API, as email or as SMS
// via the carrier's email gateway.
type Client struct {
	cfg        Config
	url        string
	httpClient *http.Client
	retry      infra.RetryConfig
}

func NewClient(cfg Config) *Client {
	return NewClientWithURL(cfg, defaultURL)
}

func NewClientWithURL(cfg Config, apiURL string) *Client {
	retry := infra.DefaultRetryConfig()
	retry.Retryable = func(err error) bool { return errors.Is(err, errRetryable) }
	return &Client{
		cfg:        cfg,
		url:        apiURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retry:      retry,
	}
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendRequest struct {
	From    address   `json:"from"`
	To      []address `json:"to"`
	Subject string    `json:"subject"`
	Text    string    `json:"text"`
}

func (c *Client) Alert(ctx context.Context, recipient, appName, message string) error {
	to, err := c.address(recipient)
	if err != nil {
		return err
	}

	body, err := json.Marshal(sendRequest{
		From:    address{Email: c.cfg.FromEmail, Name: c.cfg.FromName},
		To:      []address{{Email: to}},
		Subject: "Notification from " + appName,
		Text:    message,
	})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	return infra.WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: sending mail: %w", errRetryable, err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if infra.IsRetryableHTTPStatus(resp.StatusCode) {
			return fmt.Errorf("%w: %d: %s", errRetryable, resp.StatusCode, string(respBody))
		}

		var result struct {
			Success bool     `json:"success"`
			Errors  []string `json:"errors"`
		}
		if err := json.Unmarshal(respBody, &result); err != nil {
			return fmt.Errorf("parsing response %d: %w", resp.StatusCode, err)
		}
		if !result.Success {
			return fmt.Errorf("mailtrap error %d: %s", resp.StatusCode, strings.Join(result.Errors, "; "))
		}
		return nil
	})
}

func (c *Client) address(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("mailtrap: recipient is required")
	}
	if !c.cfg.SMS {
		return recipient, nil
	}
	if c.cfg.CarrierDomain == "" {
		return "", errors.New("mailtrap: carrier domain is required for sms")
	}
	return recipient + "@" + c.cfg.CarrierDomain, nil
}
