package pushover

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"alarm-tstat/internal/infra"
)

const defaultURL = "https://api.pushover.net/1/messages.json"

var errRetryable = errors.New("retryable pushover status")

type Client struct {
	token      string
	userKey    string
	url        string
	httpClient *http.Client
	retry      infra.RetryConfig
}

func NewClient(token, userKey string) *Client {
	return NewClientWithURL(token, userKey, defaultURL)
}

func NewClientWithURL(token, userKey, apiURL string) *Client {
	retry := infra.DefaultRetryConfig()
	retry.Retryable = func(err error) bool { return errors.Is(err, errRetryable) }
	return &Client{
		token:      token,
		userKey:    userKey,
		url:        apiURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      retry,
	}
}

// Alert pushes message with appName as the title. recipient overrides the
// configured user key when set.
func (c *Client) Alert(ctx context.Context, recipient, appName, message string) error {
	user := c.userKey
	if recipient != "" {
		user = recipient
	}
	if c.token == "" || user == "" {
		return errors.New("pushover: token and user key are required")
	}

	data := url.Values{}
	data.Set("token", c.token)
	data.Set("user", user)
	data.Set("message", message)
	data.Set("title", appName)
	data.Set("priority", "1")

	return infra.WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(
			ctx,
			http.MethodPost,
			c.url,
			strings.NewReader(data.Encode()),
		)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: sending notification: %w", errRetryable, err)
		}
		defer resp.Body.Close()

		if infra.IsRetryableHTTPStatus(resp.StatusCode) {
			return fmt.Errorf("%w: %s", errRetryable, resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("pushover error: %s", resp.Status)
		}

		return nil
	})
}
