package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/hotel-ops-gateway/internal/errors"
	"github.com/jrsteele09/hotel-ops-gateway/token"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	pathLogin    = "/auth/login"
	pathRefresh  = "/auth/refresh"
	pathLogout   = "/auth/logout"
	pathMe       = "/auth/me"
	pathRegister = "/auth/register"

	maxErrorBody    = 64 << 10
	maxPassthrough  = 1 << 20
	maxMessageRunes = 200
)

// Client calls the identity service. Every method returns either a value or
// an *apperrors.Error; the Status of that error is the upstream status for
// 4xx responses and 502 for transport failures and 5xx responses.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: timeout})
}

func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Login exchanges credentials for a session. A 2xx response without both a
// user and an access token is a contract violation.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	resp, err := c.do(ctx, http.MethodPost, pathLogin, "", LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, upstreamError(resp, loginKind(resp.StatusCode))
	}

	var body TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.Wrap(apperrors.UpstreamContractViolation, err, "identity service returned an unreadable login response")
	}
	if body.User == nil || body.User.ID == "" || body.AccessToken == "" {
		return nil, apperrors.New(apperrors.UpstreamContractViolation, "identity service login response is missing the user or access token")
	}

	return &LoginResult{
		User:  body.User,
		Token: newToken(body.AccessToken, body.RefreshToken),
	}, nil
}

// Refresh asks the identity service to rotate the session behind refreshToken.
// The returned token has an empty RefreshToken when the service did not rotate it.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	resp, err := c.do(ctx, http.MethodPost, pathRefresh, refreshToken, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, upstreamError(resp, apperrors.RefreshFailed)
	}

	var body TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.Wrap(apperrors.UpstreamContractViolation, err, "identity service returned an unreadable refresh response")
	}
	if body.AccessToken == "" {
		return nil, apperrors.New(apperrors.UpstreamContractViolation, "identity service refresh response is missing the access token")
	}
	return newToken(body.AccessToken, body.RefreshToken), nil
}

// Logout notifies the identity service that the session behind accessToken
// has ended. Callers treat failures as non-fatal.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	resp, err := c.do(ctx, http.MethodPost, pathLogout, accessToken, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return upstreamError(resp, apperrors.Unauthenticated)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

// Me resolves the identity behind accessToken.
func (c *Client) Me(ctx context.Context, accessToken string) (*Identity, error) {
	resp, err := c.do(ctx, http.MethodGet, pathMe, accessToken, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, upstreamError(resp, apperrors.Unauthenticated)
	}

	var body MeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.Wrap(apperrors.UpstreamContractViolation, err, "identity service returned an unreadable whoami response")
	}
	if body.User == nil || body.User.ID == "" {
		return nil, apperrors.New(apperrors.UpstreamContractViolation, "identity service whoami response is missing the user")
	}
	return body.User, nil
}

// Passthrough is an upstream success response relayed to the browser as is.
type Passthrough struct {
	Status      int
	ContentType string
	Body        []byte
}

// Register creates a staff account. The identity service checks that the
// bearer of accessToken is an admin.
func (c *Client) Register(ctx context.Context, accessToken string, req RegisterRequest) (*Passthrough, error) {
	resp, err := c.do(ctx, http.MethodPost, pathRegister, accessToken, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, upstreamError(resp, registerKind(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPassthrough))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.UpstreamUnavailable, err, "failed to read identity service response")
	}
	return &Passthrough{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.Internal, err, "failed to encode identity service request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Internal, err, "failed to build identity service request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		(&oauth2.Token{AccessToken: bearer, TokenType: "Bearer"}).SetAuthHeader(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("path", path).Msg("identity service unreachable")
		return nil, apperrors.WithStatus(apperrors.UpstreamUnavailable, http.StatusBadGateway, "identity service is unavailable")
	}
	zerolog.Ctx(ctx).Debug().Str("path", path).Int("status", resp.StatusCode).Msg("identity service call")
	return resp, nil
}

func newToken(accessToken, refreshToken string) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}
	// Informational only; cookie lifetimes come from configuration.
	if exp, err := token.DecodeExpiry(accessToken); err == nil {
		tok.Expiry = exp
	}
	return tok
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func loginKind(status int) apperrors.Kind {
	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		return apperrors.MalformedRequest
	}
	return apperrors.InvalidCredentials
}

func registerKind(status int) apperrors.Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.Unauthenticated
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return apperrors.MalformedRequest
	}
	return apperrors.InvalidCredentials
}

// upstreamError turns a non-2xx response into a typed error carrying only the
// upstream's human readable message. 5xx responses become UpstreamUnavailable.
func upstreamError(resp *http.Response, kind apperrors.Kind) error {
	var body ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body)

	msg := truncate(strings.TrimSpace(body.Text()), maxMessageRunes)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode >= 500 {
		return &apperrors.Error{
			Kind:    apperrors.UpstreamUnavailable,
			Status:  http.StatusBadGateway,
			Message: "identity service error",
			Err:     fmt.Errorf("upstream status %d: %s", resp.StatusCode, msg),
		}
	}
	return apperrors.WithStatus(kind, resp.StatusCode, msg)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
