// Package session is the dashboard's client side view of the session: who is
// signed in, and a request wrapper that transparently refreshes the session
// once per expiry no matter how many requests fail at the same time.
//
// The manager never sees token values. They live in the HttpOnly cookies the
// gateways set, held by the manager's cookie jar.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/hotel-ops-gateway/cookies"
	"github.com/jrsteele09/hotel-ops-gateway/identity"
	apperrors "github.com/jrsteele09/hotel-ops-gateway/internal/errors"
	"github.com/rs/zerolog"
)

const (
	PathLogin   = "/auth/login"
	PathLogout  = "/auth/logout"
	PathMe      = "/auth/me"
	PathRefresh = "/auth/refresh"

	DefaultRefreshTimeout = 10 * time.Second

	maxResponseBody = 1 << 20
)

type Config struct {
	// GatewayURL is the base URL serving the /auth/* gateways and /api/*.
	GatewayURL string
	// Origin is sent on every gateway call; it must be in the gateway's allow-list.
	Origin string
	// RefreshTimeout bounds a single refresh. Defaults to DefaultRefreshTimeout.
	RefreshTimeout time.Duration
	// HTTPClient is copied; a cookie jar is added when it has none.
	HTTPClient *http.Client
}

type Manager struct {
	base           *url.URL
	origin         string
	refreshTimeout time.Duration
	client         *http.Client

	mu         sync.Mutex
	identity   *identity.Identity
	loading    bool
	inflight   *Refresh
	generation uint64 // completed refreshes
	lastErr    error  // outcome of the latest completed refresh
	logouts    uint64
}

func New(cfg Config) (*Manager, error) {
	base, err := url.Parse(strings.TrimRight(cfg.GatewayURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("[session New] invalid gateway url %q", cfg.GatewayURL)
	}

	client := &http.Client{}
	if cfg.HTTPClient != nil {
		c := *cfg.HTTPClient
		client = &c
	}
	if client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("[session New] cookie jar: %w", err)
		}
		client.Jar = jar
	}

	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}

	return &Manager{
		base:           base,
		origin:         cfg.Origin,
		refreshTimeout: timeout,
		client:         client,
	}, nil
}

// CurrentIdentity returns a copy of the signed in user, or nil.
func (m *Manager) CurrentIdentity() *identity.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return nil
	}
	id := *m.identity
	return &id
}

func (m *Manager) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// InFlight returns the pending refresh, or nil when none is running.
func (m *Manager) InFlight() *Refresh {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight
}

func (m *Manager) setIdentity(id *identity.Identity) {
	m.mu.Lock()
	m.identity = id
	m.mu.Unlock()
}

func (m *Manager) setLoading(loading bool) {
	m.mu.Lock()
	m.loading = loading
	m.mu.Unlock()
}

// NewRequest builds a request for a gateway path such as "/api/rooms".
func (m *Manager) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := m.base.JoinPath(path)
	if i := strings.IndexByte(path, '?'); i >= 0 {
		u = m.base.JoinPath(path[:i])
		u.RawQuery = path[i+1:]
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, err, "failed to build request")
	}
	return req, nil
}

// Boot resolves the current session through the refreshing wrapper, so an
// expired access token with a live refresh token still signs the user in.
func (m *Manager) Boot(ctx context.Context) (*identity.Identity, error) {
	m.setLoading(true)
	defer m.setLoading(false)

	req, err := m.NewRequest(ctx, http.MethodGet, PathMe, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.Do(req)
	if err != nil {
		m.setIdentity(nil)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.setIdentity(nil)
		return nil, responseError(resp)
	}
	var body identity.MeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&body); err != nil || body.User == nil {
		m.setIdentity(nil)
		return nil, apperrors.New(apperrors.UpstreamContractViolation, "whoami response is missing the user")
	}
	m.setIdentity(body.User)
	zerolog.Ctx(ctx).Debug().Str("user_id", body.User.ID).Msg("session restored")
	return body.User, nil
}

type loginResponse struct {
	Success bool               `json:"success"`
	User    *identity.Identity `json:"user"`
}

// Login calls the login gateway directly; a 401 here means bad credentials,
// not an expired session.
func (m *Manager) Login(ctx context.Context, username, password string) (*identity.Identity, error) {
	payload, err := json.Marshal(identity.LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, err, "failed to encode login request")
	}
	req, err := m.NewRequest(ctx, http.MethodPost, PathLogin, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.send(req)
	if err != nil {
		m.setIdentity(nil)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.setIdentity(nil)
		return nil, responseError(resp)
	}
	var body loginResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&body); err != nil || body.User == nil {
		m.setIdentity(nil)
		return nil, apperrors.New(apperrors.UpstreamContractViolation, "login response is missing the user")
	}
	m.setIdentity(body.User)
	return body.User, nil
}

// Logout clears the identity whatever the gateway answers. A refresh that is
// already running finishes first, so its cookies cannot outlive the logout.
func (m *Manager) Logout(ctx context.Context) error {
	defer m.setIdentity(nil)

	if pending := m.InFlight(); pending != nil {
		_ = pending.Wait(ctx)
	}
	m.mu.Lock()
	m.logouts++
	m.mu.Unlock()

	req, err := m.NewRequest(ctx, http.MethodPost, PathLogout, nil)
	if err != nil {
		return err
	}
	resp, err := m.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	return nil
}

// Do sends req and, on a 401, refreshes the session once and retries the
// request once. Concurrent 401s share a single refresh. If the refresh fails
// the identity is cleared and Do returns an Unauthenticated error. A retry
// that is again rejected is returned to the caller as is.
func (m *Manager) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	// Requests issued during a refresh queue behind it.
	if pending := m.InFlight(); pending != nil {
		if err := pending.Wait(ctx); err != nil {
			return nil, waitError(ctx, err)
		}
	}

	if err := makeReplayable(req); err != nil {
		return nil, err
	}

	m.mu.Lock()
	issuedAt := m.generation
	m.mu.Unlock()

	resp, err := m.send(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	if err := m.refreshSince(ctx, issuedAt); err != nil {
		return nil, waitError(ctx, err)
	}

	retry, err := cloneForRetry(req)
	if err != nil {
		return nil, err
	}
	return m.send(retry)
}

// Refresh refreshes the session now, joining a refresh that is already running.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	r := m.startRefreshLocked(ctx)
	m.mu.Unlock()
	if err := r.Wait(ctx); err != nil {
		return waitError(ctx, err)
	}
	return nil
}

// refreshSince reuses the outcome of a refresh that completed after the
// failed request was issued, otherwise joins or starts one.
func (m *Manager) refreshSince(ctx context.Context, issuedAt uint64) error {
	m.mu.Lock()
	if m.generation > issuedAt && m.inflight == nil {
		err := m.lastErr
		m.mu.Unlock()
		return err
	}
	r := m.startRefreshLocked(ctx)
	m.mu.Unlock()
	return r.Wait(ctx)
}

// startRefreshLocked returns the in-flight refresh or starts one. The caller
// holds m.mu, which makes check-and-set of the marker atomic.
func (m *Manager) startRefreshLocked(ctx context.Context) *Refresh {
	if m.inflight != nil {
		return m.inflight
	}
	r := newRefresh()
	m.inflight = r
	go m.runRefresh(context.WithoutCancel(ctx), r, m.logouts)
	return r
}

// runRefresh discards the refreshed session when a logout happened while
// the refresh was on the wire.
func (m *Manager) runRefresh(ctx context.Context, r *Refresh, logouts uint64) {
	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	err := m.callRefresh(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("session refresh failed")
	}

	m.mu.Lock()
	if err == nil && m.logouts != logouts {
		m.expireSessionCookies()
		err = apperrors.New(apperrors.Unauthenticated, "signed out during refresh")
	}
	m.generation++
	m.lastErr = err
	m.inflight = nil
	if err != nil {
		m.identity = nil
	}
	m.mu.Unlock()

	r.finish(err)
}

func (m *Manager) callRefresh(ctx context.Context) error {
	req, err := m.NewRequest(ctx, http.MethodPost, PathRefresh, nil)
	if err != nil {
		return err
	}
	resp, err := m.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	return nil
}

// expireSessionCookies drops the session cookies from the jar.
func (m *Manager) expireSessionCookies() {
	m.client.Jar.SetCookies(m.base, []*http.Cookie{
		{Name: cookies.AccessTokenName, Path: "/", MaxAge: -1},
		{Name: cookies.RefreshTokenName, Path: "/", MaxAge: -1},
	})
}

// send works on a clone: the client adds jar cookies to the request it is
// given, and a retry must pick up the refreshed ones instead.
func (m *Manager) send(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	if m.origin != "" {
		out.Header.Set("Origin", m.origin)
	}
	resp, err := m.client.Do(out)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.UpstreamUnavailable, err, "gateway is unavailable")
	}
	return resp, nil
}

// waitError reports the caller's own cancellation as is; any refresh failure
// becomes Unauthenticated.
func waitError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if apperrors.Is(err, apperrors.ErrUnauthenticated) {
		return err
	}
	return apperrors.Wrap(apperrors.Unauthenticated, err, "session expired")
}

// responseError turns a gateway error body {error, message} into a typed error.
func responseError(resp *http.Response) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&body)

	kind := apperrors.ParseKind(body.Error)
	if body.Error == "" {
		kind = kindForStatus(resp.StatusCode)
	}
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return apperrors.WithStatus(kind, resp.StatusCode, msg)
}

func kindForStatus(status int) apperrors.Kind {
	switch {
	case status == http.StatusUnauthorized:
		return apperrors.Unauthenticated
	case status == http.StatusForbidden:
		return apperrors.OriginRejected
	case status == http.StatusTooManyRequests:
		return apperrors.TooManyAttempts
	case status >= 500:
		return apperrors.UpstreamUnavailable
	case status >= 400:
		return apperrors.MalformedRequest
	}
	return apperrors.Internal
}

// makeReplayable buffers a body that cannot be re-read so the request can be
// retried after a refresh.
func makeReplayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	buf, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, err, "failed to buffer request body")
	}
	req.Body = io.NopCloser(bytes.NewReader(buf))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	req.ContentLength = int64(len(buf))
	return nil
}

func cloneForRetry(req *http.Request) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, err, "failed to replay request body")
		}
		retry.Body = body
	}
	return retry, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	resp.Body.Close()
}
