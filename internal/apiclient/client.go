// Package apiclient is the single path for every call to the account-book
// server. It attaches the stored credential, classifies every response into
// a closed error taxonomy, and recovers from an expired credential with at
// most one refresh and one replay per call.
package apiclient

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

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"accountbook/internal/log"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultRefreshPath = "/auth/refresh"

	// Error bodies beyond this are truncated before parsing.
	maxErrorBody = 64 << 10

	headerRequestID = "X-Request-ID"
)

// CredentialStore is the subset of session.Store the client needs.
type CredentialStore interface {
	Credential() (string, bool)
	SetCredential(ctx context.Context, token string) error
	ClearCredential(ctx context.Context) error
}

type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RefreshPath string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l.WithComponent(log.ComponentAPIClient) }
}

func WithNotifier(n *Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

type Client struct {
	baseURL     string
	timeout     time.Duration
	refreshPath string

	httpClient *http.Client
	store      CredentialStore
	notifier   *Notifier
	logger     *log.Logger

	refreshes singleflight.Group
}

func New(cfg Config, store CredentialStore, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		timeout:     cfg.Timeout,
		refreshPath: cfg.RefreshPath,
		httpClient:  &http.Client{},
		store:       store,
		notifier:    NewNotifier(),
		logger:      log.Discard().WithComponent(log.ComponentAPIClient),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.refreshPath == "" {
		c.refreshPath = DefaultRefreshPath
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type noRecoveryKey struct{}

// WithoutSessionRecovery marks ctx so a 401 is returned to the caller as a
// SessionExpired error without refreshing, replaying, clearing the stored
// credential or notifying. Used for calls where a 401 rejects the request
// itself rather than the session, such as a login.
func WithoutSessionRecovery(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRecoveryKey{}, true)
}

func recoveryDisabled(ctx context.Context) bool {
	disabled, _ := ctx.Value(noRecoveryKey{}).(bool)
	return disabled
}

// Notifier returns the session-expiry notifier the client reports to.
func (c *Client) Notifier() *Notifier { return c.notifier }

func (c *Client) Get(ctx context.Context, path string) (*Result, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Result, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) Put(ctx context.Context, path string, body any) (*Result, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

func (c *Client) Delete(ctx context.Context, path string) (*Result, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// GetJSON issues a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return decodeInto(c.Get(ctx, path))(out)
}

// PostJSON issues a POST and decodes the JSON response into out. A nil out
// discards the body.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	return decodeInto(c.Post(ctx, path, body))(out)
}

// PutJSON issues a PUT and decodes the JSON response into out.
func (c *Client) PutJSON(ctx context.Context, path string, body, out any) error {
	return decodeInto(c.Put(ctx, path, body))(out)
}

func decodeInto(res *Result, err error) func(any) error {
	return func(out any) error {
		if err != nil {
			return err
		}
		if res.IsRaw() {
			res.Close()
			if out == nil {
				return nil
			}
			return &Error{Kind: KindApplicationError, Status: res.StatusCode, Message: "unexpected content type", Err: ErrNotJSON}
		}
		if out == nil {
			return nil
		}
		if err := res.Decode(out); err != nil {
			return &Error{Kind: KindApplicationError, Status: res.StatusCode, Message: "malformed response body", Err: err}
		}
		return nil
	}
}

// call is one logical request. The encoded payload and request ID are
// reused verbatim by the replay.
type call struct {
	method    string
	path      string
	payload   []byte
	requestID string
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*Result, error) {
	rq := &call{method: method, path: path, requestID: uuid.NewString()}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: KindApplicationError, Message: "encode request body", Err: err}
		}
		rq.payload = data
	}
	return c.execute(ctx, rq, false)
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload []byte, credential, requestID string) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerRequestID, requestID)
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	return req, nil
}

func (c *Client) execute(ctx context.Context, rq *call, isRetry bool) (*Result, error) {
	credential, _ := c.store.Credential()

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := c.newRequest(attemptCtx, rq.method, rq.path, rq.payload, credential, rq.requestID)
	if err != nil {
		cancel()
		return nil, &Error{Kind: KindApplicationError, Message: "build request", Err: err}
	}

	attempt := 1
	if isRetry {
		attempt = 2
	}
	fields := log.NewFields().WithRequestID(rq.requestID).WithHTTPRequest(rq.method, rq.path, attempt)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		c.logger.WarnContext(ctx, "Request failed before a response arrived",
			append(fields.WithError(err).ToSlice(), log.FieldErrorKind, KindNetworkUnavailable.String())...)
		return nil, &Error{Kind: KindNetworkUnavailable, Err: err}
	}
	c.logger.DebugContext(ctx, "Response received",
		fields.WithHTTPResponse(resp.StatusCode, time.Since(start).Milliseconds()).ToSlice()...)

	switch {
	case resp.StatusCode == http.StatusUnauthorized && recoveryDisabled(ctx):
		msg := errorMessage(resp)
		cancel()
		return nil, &Error{Kind: KindSessionExpired, Status: resp.StatusCode, Message: msg}

	case resp.StatusCode == http.StatusUnauthorized:
		discard(resp)
		cancel()
		if !isRetry {
			return c.recoverSession(ctx, rq, credential)
		}
		return nil, c.expire(context.WithoutCancel(ctx), rq, errors.New("unauthorized after replay"))

	case resp.StatusCode == http.StatusForbidden:
		msg := errorMessage(resp)
		cancel()
		c.logger.WarnContext(ctx, "Access forbidden", log.FieldRequestID, rq.requestID, log.FieldPath, rq.path)
		c.notifier.Notify()
		return nil, &Error{Kind: KindForbidden, Status: resp.StatusCode, Message: msg}

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg := errorMessage(resp)
		cancel()
		return nil, &Error{Kind: KindApplicationError, Status: resp.StatusCode, Message: msg}
	}

	if !isJSON(resp.Header) && resp.StatusCode != http.StatusNoContent {
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Raw: resp}, nil
	}

	defer cancel()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetworkUnavailable, Status: resp.StatusCode, Message: "read response body", Err: err}
	}
	return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: bytes.TrimSpace(data)}, nil
}

// recoverSession runs the refresh-then-replay sequence after a first-attempt 401.
// It is detached from the caller's cancellation so an abandoned call still
// leaves the credential store consistent; each step keeps the per-attempt
// timeout.
func (c *Client) recoverSession(ctx context.Context, rq *call, stale string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	// Another call may already have refreshed while this one was in flight.
	if current, ok := c.store.Credential(); ok && current != stale {
		c.logger.DebugContext(ctx, "Credential changed during request, replaying",
			log.FieldRequestID, rq.requestID, log.FieldPath, rq.path)
		return c.execute(ctx, rq, true)
	}

	c.logger.WarnContext(ctx, "Credential rejected, refreshing",
		log.FieldRequestID, rq.requestID, log.FieldPath, rq.path, log.FieldOperation, log.OpRefresh)

	// Concurrent 401s on the same credential share one refresh call.
	_, err, shared := c.refreshes.Do(stale, func() (any, error) {
		return nil, c.refresh(ctx, stale, rq.requestID)
	})
	if err != nil {
		return nil, c.expire(ctx, rq, err)
	}
	if shared {
		c.logger.DebugContext(ctx, "Joined in-flight refresh", log.FieldRequestID, rq.requestID)
	}
	return c.execute(ctx, rq, true)
}

func (c *Client) refresh(ctx context.Context, stale, requestID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, c.refreshPath, nil, stale, requestID)
	if err != nil {
		return fmt.Errorf("build refresh request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("refresh: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("read refresh response: %w", err)
	}
	if token := ExtractToken(resp.Header, body); token != "" {
		if err := c.store.SetCredential(ctx, token); err != nil {
			// The in-memory value is already updated; only durability is lost.
			c.logger.WarnContext(ctx, "Refreshed credential not persisted", log.FieldError, err)
		}
	}
	c.logger.InfoContext(ctx, "Credential refreshed", log.FieldRequestID, requestID)
	return nil
}

// expire is the terminal path: clear the credential, notify once, fail.
func (c *Client) expire(ctx context.Context, rq *call, cause error) error {
	if err := c.store.ClearCredential(ctx); err != nil {
		c.logger.WarnContext(ctx, "Failed to clear expired credential", log.FieldError, err)
	}
	c.logger.ErrorContext(ctx, "Session expired",
		log.FieldRequestID, rq.requestID, log.FieldPath, rq.path, log.FieldError, cause)
	c.notifier.Notify()
	return &Error{Kind: KindSessionExpired, Status: http.StatusUnauthorized, Message: "session expired", Err: cause}
}

// errorMessage reads and closes resp's body, returning the server's message
// field, then its error field, then a generic status line.
func errorMessage(resp *http.Response) string {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil && len(data) > 0 {
		var payload struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil {
			if m := strings.TrimSpace(payload.Message); m != "" {
				return m
			}
			if m := strings.TrimSpace(payload.Error); m != "" {
				return m
			}
		}
	}
	return fmt.Sprintf("HTTP Error: %d", resp.StatusCode)
}

func discard(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
