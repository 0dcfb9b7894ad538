package leviton

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/leviton-bridge/internal/infrastructure/retry"
)

// DefaultBaseURL is the My Leviton REST API root.
const DefaultBaseURL = "https://my.leviton.com/api"

const (
	// Origin and UserAgent mimic the vendor web app; the cloud rejects
	// requests without them.
	Origin    = "https://myapp.leviton.com"
	Referer   = "https://myapp.leviton.com/"
	UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.2 Safari/605.1.15"

	defaultTimeout = 15 * time.Second

	// maxResponseSize bounds response bodies read into memory.
	maxResponseSize = 8 << 20
)

// Logger is the logging interface used by this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	// Retry applies to idempotent reads only.
	Retry  *retry.Config
	Logger Logger
}

// Client talks to the My Leviton REST API.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Concurrent 401 responses trigger a single re-login.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Config
	logger     Logger

	mu       sync.RWMutex
	session  Session
	email    string
	password string
	code     string

	onSession func(Session)

	// loginMu serialises automatic re-logins.
	loginMu sync.Mutex
}

// NewClient creates a Client. It performs no I/O.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	retryCfg := retry.Default()
	if opts.Retry != nil {
		retryCfg = *opts.Retry
	}

	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		retry:      retryCfg,
		logger:     logger,
	}
}

// SetCredentials stores the account credentials used for automatic
// re-login when the token expires. RestoreSession alone does not know them.
func (c *Client) SetCredentials(email, password string) {
	c.mu.Lock()
	c.email = email
	c.password = password
	c.mu.Unlock()
}

// OnSessionChange registers a callback invoked after every successful login,
// including automatic re-logins, so the new login response can be persisted.
func (c *Client) OnSessionChange(fn func(Session)) {
	c.mu.Lock()
	c.onSession = fn
	c.mu.Unlock()
}

// Session returns the current session and whether one is set.
func (c *Client) Session() (Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session, c.session.Valid()
}

// RestoreSession adopts a previously persisted login response without any
// network I/O.
func (c *Client) RestoreSession(s Session) error {
	if !s.Valid() {
		return fmt.Errorf("%w: incomplete session", ErrInvalidLoginResponse)
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	return nil
}

// Login authenticates with email and password, plus the 2FA code when the
// account requires one.
//
// Returns:
//   - Session: The new session, also stored on the client
//   - error: ErrTwoFactorRequired when a code is needed, ErrLoginFailed for
//     rejected credentials or codes, ErrInvalidLoginResponse for malformed bodies
func (c *Client) Login(ctx context.Context, email, password, code string) (Session, error) {
	payload := map[string]string{"email": email, "password": password}
	if code != "" {
		payload["code"] = code
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Session{}, fmt.Errorf("encoding login request: %w", err)
	}

	status, respBody, err := c.send(ctx, http.MethodPost, "/Person/login?include=user", body, nil, "")
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusNotAcceptable:
		if bytes.Contains(respBody, []byte(twoFactorMarker)) {
			return Session{}, ErrTwoFactorRequired
		}
		return Session{}, &StatusError{Op: "login", StatusCode: status, Body: string(respBody), Err: ErrLoginFailed}
	case status != http.StatusOK:
		return Session{}, &StatusError{Op: "login", StatusCode: status, Body: string(respBody), Err: ErrLoginFailed}
	}

	session, err := ParseSession(respBody)
	if err != nil {
		return Session{}, err
	}

	c.mu.Lock()
	c.session = session
	c.email = email
	c.password = password
	c.code = code
	hook := c.onSession
	c.mu.Unlock()

	c.logger.Info("logged in to Leviton cloud", "user_id", session.UserID)

	if hook != nil {
		hook(session)
	}
	return session, nil
}

// request performs an authenticated call. On 401 it re-logs in once with
// the stored credentials and retries. GET requests also retry transient
// failures.
func (c *Client) request(ctx context.Context, method, path string, body []byte, header http.Header) (int, []byte, error) {
	session, ok := c.Session()
	if !ok {
		return 0, nil, ErrNotAuthenticated
	}

	status, respBody, err := c.sendIdempotent(ctx, method, path, body, header, session.Token)
	if err != nil || status != http.StatusUnauthorized {
		return status, respBody, err
	}

	c.logger.Info("Leviton token rejected, renewing session", "path", path)

	token, err := c.renew(ctx, session.Token)
	if err != nil {
		return 0, nil, err
	}
	return c.sendIdempotent(ctx, method, path, body, header, token)
}

// renew re-logs in without a 2FA code. If another goroutine already
// replaced the stale token, its result is reused.
func (c *Client) renew(ctx context.Context, staleToken string) (string, error) {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	c.mu.RLock()
	current := c.session.Token
	email, password := c.email, c.password
	c.mu.RUnlock()

	if current != "" && current != staleToken {
		return current, nil
	}
	if email == "" || password == "" {
		return "", fmt.Errorf("%w: token expired and no credentials stored", ErrAuthenticationExpired)
	}

	session, err := c.Login(ctx, email, password, "")
	if errors.Is(err, ErrTwoFactorRequired) {
		return "", fmt.Errorf("%w: re-authentication requires a two-factor code", ErrAuthenticationExpired)
	}
	if err != nil {
		return "", err
	}
	return session.Token, nil
}

// errRetryableStatus marks a response status worth another attempt.
var errRetryableStatus = errors.New("retryable status")

func (c *Client) sendIdempotent(ctx context.Context, method, path string, body []byte, header http.Header, token string) (int, []byte, error) {
	if method != http.MethodGet {
		return c.send(ctx, method, path, body, header, token)
	}

	var status int
	var respBody []byte
	err := retry.Do(ctx, c.retry, func() error {
		var err error
		status, respBody, err = c.send(ctx, method, path, body, header, token)
		if err != nil {
			return err
		}
		if retry.IsRetryableHTTPStatus(status) {
			return errRetryableStatus
		}
		return nil
	})
	if errors.Is(err, errRetryableStatus) {
		// Out of attempts; let the caller report the status.
		return status, respBody, nil
	}
	return status, respBody, err
}

// send performs one HTTP exchange with the default headers.
func (c *Client) send(ctx context.Context, method, path string, body []byte, header http.Header, token string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	setDefaultHeaders(req.Header)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func setDefaultHeaders(h http.Header) {
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Origin", Origin)
	h.Set("Referer", Referer)
	h.Set("User-Agent", UserAgent)
	h.Set("Accept-Language", "en-US,en;q=0.9")
}
