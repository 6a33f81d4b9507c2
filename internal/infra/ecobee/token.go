package ecobee

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"alarm-tstat/internal/domain"
)

const (
	DefaultBaseURL = "https://api.ecobee.com"

	// Refresh a little before the server-side expiry.
	expiryMargin = time.Minute
)

// ErrAuthorizationPending is returned by Authorize until the user has
// entered the PIN in the ecobee portal.
var ErrAuthorizationPending = errors.New("authorization pending")

// PIN is what the user types into the ecobee portal to authorize the app.
type PIN struct {
	Pin       string
	Code      string
	ExpiresIn time.Duration
	Interval  time.Duration
}

// TokenStore owns the OAuth tokens for the ecobee API. Tokens are persisted
// to a two-line file (access token, then refresh token) after every grant.
type TokenStore struct {
	fs         afero.Fs
	path       string
	apiKey     string
	authCode   string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time

	mu     sync.Mutex
	token  domain.AuthToken
	loaded bool
}

type TokenOption func(*TokenStore)

func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *TokenStore) { s.now = now }
}

// NewTokenStore creates a store. authCode is the code from a previously
// approved PIN; it is used when no tokens have been saved yet.
func NewTokenStore(fs afero.Fs, path, apiKey, authCode, baseURL string, opts ...TokenOption) *TokenStore {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	s := &TokenStore{
		fs:         fs,
		path:       path,
		apiKey:     apiKey,
		authCode:   authCode,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Token returns a token usable for API calls, authorizing or refreshing first
// when needed.
func (s *TokenStore) Token(ctx context.Context) (domain.AuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return domain.AuthToken{}, err
	}

	if s.token.Empty() {
		if s.authCode == "" {
			return domain.AuthToken{}, domain.ErrNotAuthorized
		}
		return s.grant(ctx, url.Values{
			"grant_type": {"ecobeePin"},
			"code":       {s.authCode},
			"client_id":  {s.apiKey},
		})
	}

	if s.token.Expired(s.now()) {
		return s.refresh(ctx)
	}
	return s.token, nil
}

// Refresh trades the refresh token for a new pair regardless of expiry.
func (s *TokenStore) Refresh(ctx context.Context) (domain.AuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return domain.AuthToken{}, err
	}
	return s.refresh(ctx)
}

// RequestPIN starts the PIN authorization flow.
func (s *TokenStore) RequestPIN(ctx context.Context) (PIN, error) {
	q := url.Values{
		"response_type": {"ecobeePin"},
		"client_id":     {s.apiKey},
		"scope":         {"smartWrite"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/authorize?"+q.Encode(), nil)
	if err != nil {
		return PIN{}, fmt.Errorf("creating pin request: %w", err)
	}

	body, err := s.do(req)
	if err != nil {
		return PIN{}, err
	}

	var result struct {
		EcobeePin        string `json:"ecobeePin"`
		Code             string `json:"code"`
		ExpiresIn        int    `json:"expires_in"`
		Interval         int    `json:"interval"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return PIN{}, fmt.Errorf("parsing pin response: %w", err)
	}
	if result.Error != "" || result.EcobeePin == "" {
		return PIN{}, fmt.Errorf("%w: %s %s", domain.ErrAuthorizationFailed, result.Error, result.ErrorDescription)
	}

	return PIN{
		Pin:       result.EcobeePin,
		Code:      result.Code,
		ExpiresIn: time.Duration(result.ExpiresIn) * time.Minute,
		Interval:  time.Duration(result.Interval) * time.Second,
	}, nil
}

// Authorize exchanges the code of an approved PIN for tokens and saves them.
func (s *TokenStore) Authorize(ctx context.Context, code string) (domain.AuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.grant(ctx, url.Values{
		"grant_type": {"ecobeePin"},
		"code":       {code},
		"client_id":  {s.apiKey},
	})
}

// WaitForAuthorization polls Authorize at the PIN's interval until the user
// approves it, the PIN expires or ctx is done. Transient failures keep polling.
func (s *TokenStore) WaitForAuthorization(ctx context.Context, pin PIN) (domain.AuthToken, error) {
	interval := pin.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, pin.ExpiresIn)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		token, err := s.Authorize(ctx, pin.Code)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrAuthorizationPending) && !errors.Is(err, domain.ErrTransient) {
			return token, err
		}

		select {
		case <-ctx.Done():
			return domain.AuthToken{}, fmt.Errorf("%w: pin %s not approved in time", domain.ErrAuthorizationFailed, pin.Pin)
		case <-ticker.C:
		}
	}
}

func (s *TokenStore) refresh(ctx context.Context) (domain.AuthToken, error) {
	if s.token.RefreshToken == "" {
		return domain.AuthToken{}, domain.ErrNotAuthorized
	}
	return s.grant(ctx, url.Values{
		"grant_type": {"refresh_token"},
		"code":       {s.token.RefreshToken},
		"client_id":  {s.apiKey},
	})
}

// grant calls the token endpoint; the caller holds s.mu.
func (s *TokenStore) grant(ctx context.Context, form url.Values) (domain.AuthToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return domain.AuthToken{}, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// An unreachable token endpoint is transient; only an answer that
	// rejects the grant fails the authorization.
	body, err := s.do(req)
	if err != nil {
		return domain.AuthToken{}, fmt.Errorf("requesting token: %w", err)
	}

	var result struct {
		AccessToken      string `json:"access_token"`
		RefreshToken     string `json:"refresh_token"`
		ExpiresIn        int    `json:"expires_in"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.AuthToken{}, fmt.Errorf("%w: parsing token response: %w", domain.ErrTransient, err)
	}
	switch {
	case result.Error == "authorization_pending" || result.Error == "slow_down":
		return domain.AuthToken{}, ErrAuthorizationPending
	case result.Error != "" || result.AccessToken == "":
		return domain.AuthToken{}, fmt.Errorf("%w: %s %s", domain.ErrAuthorizationFailed, result.Error, result.ErrorDescription)
	}

	token := domain.AuthToken{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}
	if result.ExpiresIn > 0 {
		token.Expiry = s.now().Add(time.Duration(result.ExpiresIn)*time.Second - expiryMargin)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = s.token.RefreshToken
	}

	s.token = token
	s.loaded = true
	if err := s.save(); err != nil {
		return domain.AuthToken{}, err
	}
	return token, nil
}

func (s *TokenStore) do(req *http.Request) ([]byte, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", domain.ErrTransient, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: token endpoint returned %d", domain.ErrTransient, resp.StatusCode)
	}
	return body, nil
}

func (s *TokenStore) load() error {
	if s.loaded {
		return nil
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		exists, statErr := afero.Exists(s.fs, s.path)
		if statErr == nil && !exists {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("reading token file: %w", err)
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if len(lines) > 0 {
		s.token.AccessToken = lines[0]
	}
	if len(lines) > 1 {
		s.token.RefreshToken = lines[1]
	}

	s.loaded = true
	return nil
}

// save writes the token file via temp file and rename so a crash never
// leaves half a token behind.
func (s *TokenStore) save() error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating token directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("creating temp token file: %w", err)
	}
	tmpPath := tmp.Name()
	defer s.fs.Remove(tmpPath)

	data := s.token.AccessToken + "\n" + s.token.RefreshToken + "\n"
	if _, err := tmp.WriteString(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp token file: %w", err)
	}
	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("saving token file %s: %w", s.path, err)
	}
	return nil
}
