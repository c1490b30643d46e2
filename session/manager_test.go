package session_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/hotel-ops-gateway/identity"
	"github.com/jrsteele09/hotel-ops-gateway/identity/identitytest"
	"github.com/jrsteele09/hotel-ops-gateway/internal/config"
	apperrors "github.com/jrsteele09/hotel-ops-gateway/internal/errors"
	"github.com/jrsteele09/hotel-ops-gateway/server"
	"github.com/jrsteele09/hotel-ops-gateway/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOrigin   = "http://hotel.test"
	testUsername = "frontdesk"
	testPassword = "S3cure-pass"
	concurrency  = 12
)

type harness struct {
	fake    *identitytest.Server
	gateway *httptest.Server
	manager *session.Manager
	user    identity.Identity
}

func newHarness(t *testing.T, refreshTimeout time.Duration) *harness {
	t.Helper()
	fake := identitytest.New(t)
	user := fake.AddUser(t, testUsername, testPassword, identity.RoleManager)

	cfg := config.Defaults()
	cfg.IdentityServiceURL = fake.URL()
	cfg.BackendAPIURL = fake.URL()
	cfg.Cors = config.Cors{Origins: config.ParseAllowedOrigins(testOrigin)}
	srv, err := server.New(cfg, identity.NewClient(fake.URL(), 5*time.Second), nil)
	require.NoError(t, err)
	gateway := httptest.NewServer(srv)
	t.Cleanup(gateway.Close)

	m, err := session.New(session.Config{
		GatewayURL:     gateway.URL,
		Origin:         testOrigin,
		RefreshTimeout: refreshTimeout,
	})
	require.NoError(t, err)
	return &harness{fake: fake, gateway: gateway, manager: m, user: user}
}

func (h *harness) get(t *testing.T, path string) (*http.Response, error) {
	t.Helper()
	req, err := h.manager.NewRequest(context.Background(), http.MethodGet, path, nil)
	require.NoError(t, err)
	return h.manager.Do(req)
}

func TestLoginBootLogout(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	user, err := h.manager.Login(ctx, testUsername, testPassword)
	require.NoError(t, err)
	assert.Equal(t, h.user.ID, user.ID)
	assert.Equal(t, h.user.ID, h.manager.CurrentIdentity().ID)

	booted, err := h.manager.Boot(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.user.ID, booted.ID)
	assert.Equal(t, testUsername, booted.Username)
	assert.False(t, h.manager.IsLoading())

	require.NoError(t, h.manager.Logout(ctx))
	assert.Nil(t, h.manager.CurrentIdentity())

	_, err = h.manager.Boot(ctx)
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	assert.Nil(t, h.manager.CurrentIdentity())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	_, err := h.manager.Login(ctx, testUsername, testPassword)
	require.NoError(t, err)

	_, err = h.manager.Login(ctx, testUsername, "wrong")

	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	assert.Equal(t, "Invalid username or password", apperrors.MessageOf(err))
	assert.Nil(t, h.manager.CurrentIdentity())
	assert.Zero(t, h.fake.Calls(identitytest.PathRefresh))
}

func TestLogout_ClearsIdentityWhenGatewayIsDown(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.manager.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	h.gateway.Close()

	err = h.manager.Logout(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrUpstreamUnavailable)
	assert.Nil(t, h.manager.CurrentIdentity())
}

func TestBoot_RefreshesExpiredAccessToken(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.manager.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	h.fake.ExpireAccessTokens()

	user, err := h.manager.Boot(context.Background())

	require.NoError(t, err)
	assert.Equal(t, h.user.ID, user.ID)
	assert.Equal(t, 1, h.fake.Calls(identitytest.PathRefresh))
}

func TestDo_TransparentRefresh(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.manager.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	h.fake.ExpireAccessTokens()

	resp, err := h.get(t, "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, h.fake.Calls(identitytest.PathRefresh))
	assert.Equal(t, 2, h.fake.Calls(identitytest.PathAPI))
	assert.Nil(t, h.manager.InFlight())
}

func TestDo_RetryRejectedAgainIsReturnedAsIs(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.manager.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	h.fake.RespondWith(identitytest.PathAPI, http.StatusUnauthorized, `{"message":"not for you"}`)

	resp, err := h.get(t, "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"message":"not for you"}`, string(body))
	assert.Equal(t, 1, h.fake.Calls(identitytest.PathRefresh))
	assert.Equal(t, 2, h.fake.Calls(identitytest.PathAPI))
	assert.NotNil(t, h.manager.CurrentIdentity())
}

// runConcurrent issues n requests at once while the identity service holds the
// refresh, and releases it only after every request is waiting on it.
func runConcurrent(t *testing.T, h *harness, n int) []error {
	t.Helper()
	arrivals, release := h.fake.HoldRefresh()
	t.Cleanup(release)

	errs := make([]error, n)
	statuses := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := h.get(t, "/api/rooms")
			errs[i] = err
			if err == nil {
				statuses[i] = resp.StatusCode
				resp.Body.Close()
			}
		}(i)
	}

	select {
	case <-arrivals:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh never reached the identity service")
	}
	require.Eventually(t, func() bool {
		r := h.manager.InFlight()
		return r != nil && r.Waiters() == n
	}, 5*time.Second, 5*time.Millisecond)

	release()
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			assert.Equal(t, http.StatusOK, statuses[i])
		}
	}
	return errs
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.manager.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	h.fake.ExpireAccessTokens()

	errs := runConcurrent(t, h, concurrency)

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, h.fake.Calls(identitytest.PathRefresh))
	assert.Nil(t, h.manager.InFlight())
	assert.NotNil(t, h.manager.CurrentIdentity())
}

func TestDo_ConcurrentUnauthorizedAllFailTogether(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.manager.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	h.fake.ExpireAccessTokens()
	h.fake.RevokeRefreshTokens()

	errs := runConcurrent(t, h, concurrency)

	for _, err := range errs {
		assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	}
	assert.Equal(t, 1, h.fake.Calls(identitytest.PathRefresh))
	assert.Nil(t, h.manager.CurrentIdentity())
	assert.Nil(t, h.manager.InFlight())
}

// scriptedGateway answers /api/echo with 401 until /auth/refresh has issued
// the "fresh" access cookie. Refresh behaviour is controlled by the test.
type scriptedGateway struct {
	srv          *httptest.Server
	mu           sync.Mutex
	refreshGate  chan struct{}
	refreshOK    atomic.Bool
	refreshCalls atomic.Int32
	apiCalls     atomic.Int32
	origins      sync.Map // path -> origin
}

func newScriptedGateway(t *testing.T) *scriptedGateway {
	g := &scriptedGateway{refreshGate: make(chan struct{})}
	g.refreshOK.Store(true)
	close(g.refreshGate)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		g.origins.Store(r.URL.Path, r.Header.Get("Origin"))
		g.refreshCalls.Add(1)
		select {
		case <-g.gate():
		case <-r.Context().Done():
			return
		}
		if !g.refreshOK.Load() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":"refresh_failed","message":"refresh token revoked"}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "fresh", Path: "/"})
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("access_token"); err != nil || c.Value != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"user":{"id":"u1","username":"frontdesk","role":"manager"}}`))
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "access_token", Path: "/", MaxAge: -1})
		_, _ = w.Write([]byte(`{"success":true,"message":"Logged out"}`))
	})
	mux.HandleFunc("/api/echo", func(w http.ResponseWriter, r *http.Request) {
		g.origins.Store(r.URL.Path, r.Header.Get("Origin"))
		g.apiCalls.Add(1)
		if len(r.CookiesNamed("access_token")) > 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if c, err := r.Cookie("access_token"); err != nil || c.Value != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	})
	g.srv = httptest.NewServer(mux)
	t.Cleanup(g.srv.Close)
	return g
}

func (g *scriptedGateway) gate() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshGate
}

func (g *scriptedGateway) hold() func() {
	gate := make(chan struct{})
	g.mu.Lock()
	g.refreshGate = gate
	g.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func newScriptedManager(t *testing.T, g *scriptedGateway, timeout time.Duration) *session.Manager {
	t.Helper()
	m, err := session.New(session.Config{GatewayURL: g.srv.URL, Origin: testOrigin, RefreshTimeout: timeout})
	require.NoError(t, err)
	return m
}

// newJarManager is newScriptedManager with a jar the test can inspect.
func newJarManager(t *testing.T, g *scriptedGateway) (*session.Manager, http.CookieJar, *url.URL) {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	u, err := url.Parse(g.srv.URL)
	require.NoError(t, err)
	m, err := session.New(session.Config{
		GatewayURL: g.srv.URL,
		Origin:     testOrigin,
		HTTPClient: &http.Client{Jar: jar},
	})
	require.NoError(t, err)
	return m, jar, u
}

func jarValue(jar http.CookieJar, u *url.URL, name string) string {
	for _, c := range jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// onceReader hides strings.Reader so http.NewRequest cannot set GetBody.
type onceReader struct{ r io.Reader }

func (o onceReader) Read(p []byte) (int, error) { return o.r.Read(p) }

func TestDo_ReplaysBodyOnRetry(t *testing.T) {
	g := newScriptedGateway(t)
	m := newScriptedManager(t, g, 0)

	req, err := m.NewRequest(context.Background(), http.MethodPost, "/api/echo", onceReader{strings.NewReader(`{"room":"101"}`)})
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := m.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"room":"101"}`, string(body))
	assert.EqualValues(t, 1, g.refreshCalls.Load())
	assert.EqualValues(t, 2, g.apiCalls.Load())
}

func TestDo_SetsOrigin(t *testing.T) {
	g := newScriptedGateway(t)
	m := newScriptedManager(t, g, 0)

	req, err := m.NewRequest(context.Background(), http.MethodGet, "/api/echo", nil)
	require.NoError(t, err)
	resp, err := m.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	for _, path := range []string{"/api/echo", "/auth/refresh"} {
		origin, ok := g.origins.Load(path)
		require.True(t, ok, path)
		assert.Equal(t, testOrigin, origin, path)
	}
}

func TestDo_QueuedRequestIsNotSentWhenRefreshFails(t *testing.T) {
	g := newScriptedGateway(t)
	g.refreshOK.Store(false)
	release := g.hold()
	t.Cleanup(release)
	m := newScriptedManager(t, g, 0)

	refreshErr := make(chan error, 1)
	go func() { refreshErr <- m.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return m.InFlight() != nil }, 5*time.Second, time.Millisecond)

	doErr := make(chan error, 1)
	go func() {
		req, _ := m.NewRequest(context.Background(), http.MethodGet, "/api/echo", nil)
		_, err := m.Do(req)
		doErr <- err
	}()
	require.Eventually(t, func() bool {
		r := m.InFlight()
		return r != nil && r.Waiters() == 2
	}, 5*time.Second, time.Millisecond)

	release()

	assert.ErrorIs(t, <-refreshErr, apperrors.ErrUnauthenticated)
	assert.ErrorIs(t, <-doErr, apperrors.ErrUnauthenticated)
	assert.Zero(t, g.apiCalls.Load())
	assert.EqualValues(t, 1, g.refreshCalls.Load())
}

func TestRefresh_TimeoutReleasesMarker(t *testing.T) {
	g := newScriptedGateway(t)
	release := g.hold()
	t.Cleanup(release)
	m := newScriptedManager(t, g, 50*time.Millisecond)

	start := time.Now()
	err := m.Refresh(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Nil(t, m.InFlight())

	// The next refresh starts fresh rather than joining the timed out one.
	release()
	require.NoError(t, m.Refresh(context.Background()))
	assert.EqualValues(t, 2, g.refreshCalls.Load())
}

func TestRefresh_CallerCancellationDoesNotCancelRefresh(t *testing.T) {
	g := newScriptedGateway(t)
	release := g.hold()
	t.Cleanup(release)
	m := newScriptedManager(t, g, 0)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- m.Refresh(ctx) }()
	require.Eventually(t, func() bool { return m.InFlight() != nil }, 5*time.Second, time.Millisecond)
	inflight := m.InFlight()

	cancel()
	assert.True(t, errors.Is(<-errc, context.Canceled))
	assert.Same(t, inflight, m.InFlight())

	release()
	select {
	case <-inflight.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not finish")
	}
	assert.NoError(t, inflight.Err())
	assert.Nil(t, m.InFlight())
}

func TestNew_InvalidGatewayURL(t *testing.T) {
	_, err := session.New(session.Config{GatewayURL: "gateway"})
	assert.Error(t, err)
}

func TestNewRequest_KeepsQuery(t *testing.T) {
	m, err := session.New(session.Config{GatewayURL: "http://gateway.test/"})
	require.NoError(t, err)

	req, err := m.NewRequest(context.Background(), http.MethodGet, "/api/rooms?floor=2", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://gateway.test/api/rooms?floor=2", req.URL.String())
}

func TestBootSetsLoading(t *testing.T) {
	g := newScriptedGateway(t)
	release := g.hold()
	t.Cleanup(release)
	m := newScriptedManager(t, g, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Boot(context.Background())
	}()
	require.Eventually(t, m.IsLoading, 5*time.Second, time.Millisecond)

	release()
	<-done
	assert.False(t, m.IsLoading())
}

func TestDo_RetrySendsOnlyRefreshedCookie(t *testing.T) {
	g := newScriptedGateway(t)
	m, jar, u := newJarManager(t, g)
	jar.SetCookies(u, []*http.Cookie{{Name: "access_token", Value: "stale", Path: "/"}})

	req, err := m.NewRequest(context.Background(), http.MethodGet, "/api/echo", nil)
	require.NoError(t, err)
	resp, err := m.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, req.Header.Get("Cookie"))
	assert.EqualValues(t, 1, g.refreshCalls.Load())
	assert.EqualValues(t, 2, g.apiCalls.Load())
}

func TestLogout_WaitsForRunningRefresh(t *testing.T) {
	g := newScriptedGateway(t)
	release := g.hold()
	t.Cleanup(release)
	m, jar, u := newJarManager(t, g)

	refreshErr := make(chan error, 1)
	go func() { refreshErr <- m.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return m.InFlight() != nil }, 5*time.Second, time.Millisecond)

	logoutErr := make(chan error, 1)
	go func() { logoutErr <- m.Logout(context.Background()) }()
	require.Eventually(t, func() bool {
		r := m.InFlight()
		return r != nil && r.Waiters() == 2
	}, 5*time.Second, time.Millisecond)

	release()

	require.NoError(t, <-refreshErr)
	require.NoError(t, <-logoutErr)
	assert.Nil(t, m.CurrentIdentity())
	assert.Empty(t, jarValue(jar, u, "access_token"))
}

func TestRefresh_DiscardedWhenLogoutOvertakesIt(t *testing.T) {
	g := newScriptedGateway(t)
	release := g.hold()
	t.Cleanup(release)
	m, jar, u := newJarManager(t, g)

	go func() { _ = m.Refresh(context.Background()) }()
	require.Eventually(t, func() bool { return m.InFlight() != nil }, 5*time.Second, time.Millisecond)
	inflight := m.InFlight()

	// The logout stops waiting and is sent while the refresh is still held.
	ctx, cancel := context.WithCancel(context.Background())
	logoutErr := make(chan error, 1)
	go func() { logoutErr <- m.Logout(ctx) }()
	require.Eventually(t, func() bool { return inflight.Waiters() == 2 }, 5*time.Second, time.Millisecond)
	cancel()
	<-logoutErr

	release()
	select {
	case <-inflight.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not finish")
	}
	assert.ErrorIs(t, inflight.Err(), apperrors.ErrUnauthenticated)
	assert.Empty(t, jarValue(jar, u, "access_token"))
	assert.Nil(t, m.CurrentIdentity())
}
