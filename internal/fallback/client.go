// Package fallback keeps notification data flowing over REST when the push
// channel is down, and routes mutations over whichever path is live.
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/sony/gobreaker"

	"github.com/schoolhub/schoolhub/internal/core"
	"github.com/schoolhub/schoolhub/internal/logging"
	"github.com/schoolhub/schoolhub/internal/notifications"
)

// APIError is a non-2xx response from the notifications API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("notifications API: HTTP %d", e.Status)
	}
	return fmt.Sprintf("notifications API: HTTP %d: %s", e.Status, e.Message)
}

// Temporary reports whether retrying may help.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// ClientConfig configures a RESTClient.
type ClientConfig struct {
	BaseURL string
	Token   func() string

	HTTPClient *http.Client
	// RetryAttempts is the total number of tries per call, first included.
	RetryAttempts int
	RetryDelay    time.Duration
	// BreakerFailures consecutive transient failures open the breaker for
	// BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	Logger *logging.Logger
}

// RESTClient calls the notification endpoints of the school API.
type RESTClient struct {
	baseURL  string
	token    func() string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	attempts uint
	delay    time.Duration
	logger   *logging.Logger
}

// NewRESTClient creates a client.
func NewRESTClient(cfg ClientConfig) *RESTClient {
	if cfg.Token == nil {
		cfg.Token = func() string { return "" }
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	logger := logging.OrDefault(cfg.Logger).WithField("component", "fallback")
	failures := cfg.BreakerFailures

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notifications-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit %s: %s -> %s", name, from, to)
		},
	})

	return &RESTClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		http:     cfg.HTTPClient,
		breaker:  breaker,
		attempts: uint(cfg.RetryAttempts),
		delay:    cfg.RetryDelay,
		logger:   logger,
	}
}

type listResponse struct {
	Notifications []notifications.Record `json:"notifications"`
	Count         int                    `json:"count"`
}

// ListNotifications fetches the caller's notifications.
func (c *RESTClient) ListNotifications(ctx context.Context, unreadOnly bool) ([]notifications.Record, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("unread_only", "true")
	}
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/notifications", q, &resp); err != nil {
		return nil, err
	}
	return resp.Notifications, nil
}

// MarkRead marks one notification read.
func (c *RESTClient) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// MarkAllRead marks every notification read.
func (c *RESTClient) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/notifications/read-all", nil, nil)
}

func (c *RESTClient) do(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	token := c.token()
	if token == "" {
		return core.ErrNoCredentials
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	err := retry.Do(
		func() error {
			_, err := c.breaker.Execute(func() (interface{}, error) {
				return nil, c.roundTrip(ctx, method, endpoint, token, out)
			})
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				err = core.ErrCircuitOpen
			}
			lastErr = err
			if err != nil && !isTransient(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("Retrying %s %s (attempt %d): %v", method, path, n+1, err)
		}),
	)
	if err == nil {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return err
}

func (c *RESTClient) roundTrip(ctx context.Context, method, endpoint, token string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Message = payload.Error
		if apiErr.Message == "" {
			apiErr.Message = payload.Message
		}
	}
	return apiErr
}

// isTransient reports whether err is worth retrying: network failures, 5xx
// and 429.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, core.ErrCircuitOpen) || errors.Is(err, core.ErrNoCredentials) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	var decodeErr *json.SyntaxError
	if errors.As(err, &decodeErr) {
		return false
	}
	return true
}
