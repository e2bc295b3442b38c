package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"contentcrush/cmd/internal/api"
	"contentcrush/cmd/internal/auth/session"
	"contentcrush/cmd/internal/metrics"
	"contentcrush/cmd/security/password"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
)

const capabilitiesPath = "/api/auth/capabilities"

// Service is the auth facade. It owns the HTTP wrapper, implements its
// SessionSource, and is the single writer of the token store.
type Service struct {
	log      *slog.Logger
	store    *session.Store
	client   *api.Client
	http     *http.Client
	base     *url.URL
	validate *validator.Validate
	pwPolicy password.Config
	metrics  *metrics.Metrics

	refreshSkew time.Duration

	// sf coalesces concurrent refresh triggers into one exchange.
	sf singleflight.Group

	negMu      sync.Mutex
	negotiated bool

	onSessionEnd []func()

	userMu sync.RWMutex
	user   *User
}

// ServiceOption configures optional service dependencies.
type ServiceOption func(*Service, *[]api.Option)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service, _ *[]api.Option) {
		if s == nil || log == nil {
			return
		}
		s.log = log
	}
}

// WithMetrics attaches instrumentation to the service and its HTTP wrapper.
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service, apiOpts *[]api.Option) {
		if s == nil {
			return
		}
		s.metrics = m
		*apiOpts = append(*apiOpts, api.WithMetrics(m))
	}
}

// WithRetryPolicy overrides the wrapper's retry policy.
func WithRetryPolicy(p api.RetryPolicy) ServiceOption {
	return func(_ *Service, apiOpts *[]api.Option) {
		*apiOpts = append(*apiOpts, api.WithRetryPolicy(p))
	}
}

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(h *http.Client) ServiceOption {
	return func(_ *Service, apiOpts *[]api.Option) {
		*apiOpts = append(*apiOpts, api.WithHTTPClient(h))
	}
}

// WithUnauthorizedHook sets the forced-login callback on the wrapper.
func WithUnauthorizedHook(fn func()) ServiceOption {
	return func(_ *Service, apiOpts *[]api.Option) {
		*apiOpts = append(*apiOpts, api.WithUnauthorizedHook(fn))
	}
}

// WithSessionEndHook registers a callback run when the session ends (logout
// or cleared refresh). Used to clear the query cache and drop realtime.
func WithSessionEndHook(fn func()) ServiceOption {
	return func(s *Service, _ *[]api.Option) {
		if s == nil || fn == nil {
			return
		}
		s.onSessionEnd = append(s.onSessionEnd, fn)
	}
}

// WithPasswordPolicy overrides the local password policy pre-check.
func WithPasswordPolicy(cfg password.Config) ServiceOption {
	return func(s *Service, _ *[]api.Option) {
		if s == nil {
			return
		}
		s.pwPolicy = cfg
	}
}

// WithRefreshSkew overrides how early EnsureFresh refreshes proactively.
func WithRefreshSkew(d time.Duration) ServiceOption {
	return func(s *Service, _ *[]api.Option) {
		if s == nil || d < 0 {
			return
		}
		s.refreshSkew = d
	}
}

// NewService constructs the facade together with its HTTP wrapper; the
// wrapper's cookie jar is reused for the cookie-transport refresh exchange.
func NewService(baseURL string, store *session.Store, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		log:         slog.Default(),
		store:       store,
		validate:    validator.New(),
		pwPolicy:    password.DefaultConfig(),
		refreshSkew: 30 * time.Second,
	}

	var apiOpts []api.Option
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s, &apiOpts)
	}
	apiOpts = append(apiOpts, api.WithLogger(s.log))

	client, err := api.NewClient(baseURL, s, apiOpts...)
	if err != nil {
		return nil, err
	}
	s.client = client
	s.http = client.HTTPClient()
	s.base = client.BaseURL()
	return s, nil
}

// API exposes the HTTP wrapper for generic /api/... reads.
func (s *Service) API() *api.Client { return s.client }

// Store exposes the token store (realtime identify, tests).
func (s *Service) Store() *session.Store { return s.store }

// CurrentUser returns the last-known authenticated profile, if any.
func (s *Service) CurrentUser() *User {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Service) setUser(u *User) {
	s.userMu.Lock()
	s.user = u
	s.userMu.Unlock()
}

// ---- api.SessionSource ----

// AccessToken implements api.SessionSource.
func (s *Service) AccessToken() (string, bool) {
	t, ok := s.store.Current()
	if !ok {
		return "", false
	}
	return t.AccessToken, true
}

// Refresh implements api.SessionSource. Concurrent callers coalesce into one
// in-flight exchange; every waiter observes the same outcome.
func (s *Service) Refresh(ctx context.Context) error {
	_, err, _ := s.sf.Do("refresh", func() (any, error) {
		return nil, s.doRefresh(ctx)
	})
	return err
}

func (s *Service) doRefresh(ctx context.Context) error {
	if err := s.Negotiate(ctx); err != nil {
		s.log.Debug("auth.capabilities.unavailable", "err", err)
	}

	path := "/api/auth/refresh"
	req := refreshRequest{Platform: string(s.store.Platform())}

	if s.store.Transport() == session.TransportBearer {
		cur, ok := s.store.Current()
		if !ok || cur.RefreshToken == "" {
			if restored, err := s.store.Restore(); err == nil && restored.RefreshToken != "" {
				cur = restored
			} else {
				s.metrics.IncTokenRefresh("fail")
				return fmt.Errorf("%w: %v", ErrRefreshFailed, session.ErrNoRefreshToken)
			}
		}
		path = "/api/auth/mobile-refresh"
		req.RefreshToken = cur.RefreshToken
	}

	data, status, err := s.postJSON(ctx, path, req)
	if err != nil {
		// Transient transport failure: keep the local session, surface the error.
		s.metrics.IncTokenRefresh("fail")
		return err
	}
	if status < 200 || status >= 300 {
		// Rejected exchange: the session is gone, locally too.
		if cerr := s.store.Clear(); cerr != nil {
			s.log.Warn("auth.session.clear.fail", "err", cerr)
		}
		s.setUser(nil)
		s.metrics.IncTokenRefresh("fail")
		return fmt.Errorf("%w: status %d", ErrRefreshFailed, status)
	}

	var rr refreshResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		s.metrics.IncTokenRefresh("fail")
		return fmt.Errorf("%w: bad response: %v", ErrRefreshFailed, err)
	}

	if err := s.store.Set(session.Tokens{
		AccessToken:  rr.Session.AccessToken,
		RefreshToken: rr.Session.RefreshToken,
		AccessExpiry: rr.Session.AccessExpiresAt,
	}); err != nil {
		s.log.Warn("auth.vault.save.fail", "err", err)
	}

	s.metrics.IncTokenRefresh("ok")
	s.log.Debug("auth.refresh.ok", "path", path)
	return nil
}

// EnsureFresh refreshes proactively when the access token expires within the
// configured skew. A missing session is not an error here.
func (s *Service) EnsureFresh(ctx context.Context) error {
	cur, ok := s.store.Current()
	if !ok {
		return nil
	}
	if !cur.ExpiresWithin(time.Now(), s.refreshSkew) {
		return nil
	}
	return s.Refresh(ctx)
}

// Negotiate asks the server which token transport it supports and records it
// on the store. 404 means an older backend: the platform default stands.
// Negotiation runs at most once per process.
func (s *Service) Negotiate(ctx context.Context) error {
	s.negMu.Lock()
	defer s.negMu.Unlock()
	if s.negotiated {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base.JoinPath(capabilitiesPath).String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return &api.NetworkError{URL: capabilitiesPath, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		s.negotiated = true
		s.log.Debug("auth.capabilities.absent", "transport", s.store.Transport())
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("capabilities: status %d", resp.StatusCode)
	}

	var caps capabilitiesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&caps); err != nil {
		return fmt.Errorf("capabilities: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(caps.TokenTransport)) {
	case string(session.TransportCookie):
		s.store.SetTransport(session.TransportCookie)
	case string(session.TransportBearer):
		s.store.SetTransport(session.TransportBearer)
	default:
		// Unknown advertisement: keep the platform default.
	}

	s.negotiated = true
	s.log.Debug("auth.capabilities.ok", "transport", s.store.Transport())
	return nil
}

// ---- operations ----

// Login authenticates and installs the returned session.
func (s *Service) Login(ctx context.Context, in LoginInput) (*User, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.Negotiate(ctx); err != nil {
		s.log.Debug("auth.capabilities.unavailable", "err", err)
	}

	req := loginRequest{
		Email:      in.Email,
		Password:   in.Password,
		RememberMe: in.RememberMe,
		Platform:   string(s.store.Platform()),
	}
	data, status, err := s.postJSON(ctx, "/api/auth/login", req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, ErrLoginFailed
	}
	if status < 200 || status >= 300 {
		return nil, &api.APIError{Status: status, Body: string(data)}
	}

	var lr loginResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return nil, fmt.Errorf("login: bad response: %w", err)
	}

	if err := s.installSession(lr.User, lr.Session); err != nil {
		return nil, err
	}
	s.log.Info("auth.login.ok", "user_id", lr.User.ID)
	return &lr.User, nil
}

// Register creates an account; the backend signs the new user in directly.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.pwPolicy.Validate(in.Password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.Negotiate(ctx); err != nil {
		s.log.Debug("auth.capabilities.unavailable", "err", err)
	}

	req := registerRequest{
		Name:     in.Name,
		Email:    in.Email,
		Password: in.Password,
		Platform: string(s.store.Platform()),
	}
	data, status, err := s.postJSON(ctx, "/api/auth/register", req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &api.APIError{Status: status, Body: string(data)}
	}

	var lr loginResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return nil, fmt.Errorf("register: bad response: %w", err)
	}

	if err := s.installSession(lr.User, lr.Session); err != nil {
		return nil, err
	}
	s.log.Info("auth.register.ok", "user_id", lr.User.ID)
	return &lr.User, nil
}

// Logout revokes the session server-side (best effort) and ends it locally.
func (s *Service) Logout(ctx context.Context) error {
	if _, err := s.client.Post(ctx, "/api/auth/logout", nil, api.ReturnNilOnUnauthorized()); err != nil {
		s.log.Info("auth.logout.remote.fail", "err", err)
	}
	return s.endSession()
}

// Me fetches the current profile. Returns (nil, nil) when not signed in;
// callers treat that as "logged out", not as an error.
func (s *Service) Me(ctx context.Context) (*User, error) {
	res, err := s.client.Get(ctx, "/api/auth/me", api.ReturnNilOnUnauthorized())
	if err != nil {
		return nil, err
	}
	if res == nil {
		s.setUser(nil)
		return nil, nil
	}

	var mr meResponse
	if err := res.Decode(&mr); err != nil {
		return nil, fmt.Errorf("me: bad response: %w", err)
	}
	s.setUser(&mr.User)
	u := mr.User
	return &u, nil
}

// UpdateProfile mutates the signed-in profile.
func (s *Service) UpdateProfile(ctx context.Context, in UpdateProfileInput) (*User, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	res, err := s.client.Do(ctx, http.MethodPut, "/api/auth/profile", updateProfileRequest{
		Name:      in.Name,
		AvatarURL: in.AvatarURL,
	})
	if err != nil {
		return nil, err
	}

	var mr meResponse
	if err := res.Decode(&mr); err != nil {
		return nil, fmt.Errorf("profile: bad response: %w", err)
	}
	s.setUser(&mr.User)
	u := mr.User
	return &u, nil
}

// ChangePassword pre-checks the new password locally, then submits it.
func (s *Service) ChangePassword(ctx context.Context, in ChangePasswordInput) error {
	if err := s.validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.pwPolicy.Validate(in.NewPassword); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	_, err := s.client.Post(ctx, "/api/auth/change-password", changePasswordRequest{
		CurrentPassword: in.CurrentPassword,
		NewPassword:     in.NewPassword,
	})
	return err
}

// ---- helpers ----

func (s *Service) installSession(u User, sess sessionResponse) error {
	if err := s.store.Set(session.Tokens{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		AccessExpiry: sess.AccessExpiresAt,
	}); err != nil {
		s.log.Warn("auth.vault.save.fail", "err", err)
	}
	s.setUser(&u)
	s.client.RearmUnauthorizedHook()
	return nil
}

func (s *Service) endSession() error {
	err := s.store.Clear()
	s.setUser(nil)
	for _, fn := range s.onSessionEnd {
		fn()
	}
	s.log.Info("auth.logout.ok")
	return err
}

// postJSON performs an unauthenticated JSON POST on the shared client
// (cookie jar included), outside the wrapper's refresh/retry loop.
func (s *Service) postJSON(ctx context.Context, path string, body any) ([]byte, int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base.JoinPath(path).String(), strings.NewReader(string(b)))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, 0, &api.NetworkError{URL: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, &api.NetworkError{URL: path, Err: err}
	}
	return data, resp.StatusCode, nil
}
