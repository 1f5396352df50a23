package gcal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrNotConfigured    = errors.New("google calendar is not configured")
	ErrTokenRefresh     = errors.New("token refresh failed")
	ErrCalendarNotFound = errors.New("calendar not found")
)

const (
	defaultBaseURL  = "https://www.googleapis.com/calendar/v3"
	defaultTokenURL = "https://oauth2.googleapis.com/token"

	requestTimeout = 30 * time.Second

	// Access tokens are treated as expired this long before their
	// actual expiry so a token never dies mid-request.
	tokenExpiryMargin = 30 * time.Second

	// Retry budget for 429 and 5xx responses: up to 2 extra attempts.
	maxRetries     = 2
	retryBaseDelay = 500 * time.Millisecond
)

// APIError is a typed error for non-2xx responses from the calendar
// service. Status is set at construction time; callers match on it,
// never on message text.
type APIError struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("google api: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Detail)
}

// NotFound reports whether the response indicates the resource is gone.
func (e *APIError) NotFound() bool {
	return e.Status == http.StatusNotFound || e.Status == http.StatusGone
}

// Retryable reports whether the request may be retried.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsNotFound returns true if err is an APIError for a missing resource.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.NotFound()
}

// Client issues authenticated HTTP calls against the Google Calendar
// REST surface. The access token is cached in-memory until close to
// expiry. The client is constructed once per process and, like the
// rest of the sync core, is never driven concurrently, so the token
// slot needs no locking.
type Client struct {
	clientID     string
	clientSecret string
	refreshToken string

	baseURL    string
	tokenURL   string
	httpClient *http.Client
	limiter    *rate.Limiter

	accessToken string
	tokenExpiry time.Time

	// Test hooks.
	now   func() time.Time
	sleep func(time.Duration)
}

// NewClient creates a calendar API client from OAuth2 refresh-token
// credentials.
func NewClient(clientID, clientSecret, refreshToken string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
		baseURL:      defaultBaseURL,
		tokenURL:     defaultTokenURL,
		httpClient:   &http.Client{Timeout: requestTimeout},
		limiter:      rate.NewLimiter(rate.Limit(5), 10),
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

// Configured reports whether the client has a full credential set.
func (c *Client) Configured() bool {
	return c.clientID != "" && c.clientSecret != "" && c.refreshToken != ""
}

// token returns a valid access token, refreshing it if the cached one
// is missing or within the expiry margin.
func (c *Client) token(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if c.accessToken != "" && c.now().Before(c.tokenExpiry.Add(-tokenExpiryMargin)) {
		return c.accessToken, nil
	}

	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {c.refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenRefresh, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenRefresh, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenRefresh, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrTokenRefresh, resp.StatusCode, truncate(string(body), 200))
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("%w: invalid response: %w", ErrTokenRefresh, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrTokenRefresh)
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// Call issues a request against the calendar API and decodes the JSON
// response into out (which may be nil for responses without a body).
// 429 and 5xx responses are retried up to maxRetries times, honoring a
// Retry-After header when present and falling back to a linear backoff
// of attempt × 500ms.
func (c *Client) Call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		token, err := c.token(ctx)
		if err != nil {
			return err
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
			}
			return nil
		}

		apiErr := &APIError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Detail: errorDetail(respBody),
		}

		if !apiErr.Retryable() || attempt == maxRetries {
			return apiErr
		}

		lastErr = apiErr
		c.sleep(retryDelay(resp.Header.Get("Retry-After"), attempt))
	}

	return lastErr
}

// retryDelay returns the wait before the next attempt: the server's
// Retry-After value in seconds if parseable, else attempt × 500ms
// counting attempts from one.
func retryDelay(retryAfter string, attempt int) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(attempt+1) * retryBaseDelay
}

// errorDetail extracts the error message from a Google API error body,
// falling back to the raw body.
func errorDetail(body []byte) string {
	var wrapper struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Message != "" {
		return wrapper.Error.Message
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
