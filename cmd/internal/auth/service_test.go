package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"contentcrush/cmd/internal/auth/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, handler http.Handler, platform session.Platform, opts ...ServiceOption) (*Service, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := session.NewStore(platform, nil)
	svc, err := NewService(srv.URL, store, opts...)
	require.NoError(t, err)
	return svc, srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func okLoginResponse() loginResponse {
	return loginResponse{
		User: User{ID: "u1", Name: "Ana", Email: "ana@example.com"},
		Session: sessionResponse{
			AccessToken:     "acc-1",
			AccessExpiresAt: time.Now().Add(15 * time.Minute),
			RefreshToken:    "ref-1",
		},
	}
}

func TestLogin_InstallsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/capabilities", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ana@example.com", req.Email)
		assert.Equal(t, "web", req.Platform)
		writeJSON(t, w, http.StatusOK, okLoginResponse())
	})

	svc, _ := newTestService(t, mux, session.PlatformWeb)

	u, err := svc.Login(context.Background(), LoginInput{Email: "ana@example.com", Password: "s3cret-pass"})
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.ID)

	tok, ok := svc.Store().Current()
	require.True(t, ok)
	assert.Equal(t, "acc-1", tok.AccessToken)
	assert.Equal(t, "ref-1", tok.RefreshToken)
	require.NotNil(t, svc.CurrentUser())
	assert.Equal(t, "u1", svc.CurrentUser().ID)
}

func TestLogin_InvalidInputSkipsNetwork(t *testing.T) {
	var hits atomic.Int64
	svc, _ := newTestService(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}), session.PlatformWeb)

	_, err := svc.Login(context.Background(), LoginInput{Email: "not-an-email", Password: "x"})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, hits.Load())
}

func TestLogin_BadCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/capabilities", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	svc, _ := newTestService(t, mux, session.PlatformWeb)

	_, err := svc.Login(context.Background(), LoginInput{Email: "ana@example.com", Password: "wrong"})
	require.ErrorIs(t, err, ErrLoginFailed)
	_, ok := svc.Store().Current()
	assert.False(t, ok)
}

func TestRefresh_CoalescesConcurrentCallers(t *testing.T) {
	var refreshes atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/capabilities", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
		refreshes.Add(1)
		time.Sleep(50 * time.Millisecond)
		writeJSON(t, w, http.StatusOK, refreshResponse{Session: sessionResponse{
			AccessToken:     "acc-2",
			AccessExpiresAt: time.Now().Add(15 * time.Minute),
		}})
	})

	svc, _ := newTestService(t, mux, session.PlatformWeb)
	require.NoError(t, svc.Store().Set(session.Tokens{AccessToken: "acc-1"}))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = svc.Refresh(context.Background())
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), refreshes.Load())

	tok, ok := svc.Store().Current()
	require.True(t, ok)
	assert.Equal(t, "acc-2", tok.AccessToken)
}

func TestRefresh_RejectedClearsSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/capabilities", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	svc, _ := newTestService(t, mux, session.PlatformWeb)
	require.NoError(t, svc.Store().Set(session.Tokens{AccessToken: "acc-1"}))

	err := svc.Refresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshFailed)

	_, ok := svc.Store().Current()
	assert.False(t, ok)
	assert.Nil(t, svc.CurrentUser())
}

func TestRefresh_BearerUsesMobilePath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/capabilities", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
		t.Error("cookie refresh path used on bearer transport")
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("POST /api/auth/mobile-refresh", func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ref-1", req.RefreshToken)
		assert.Equal(t, "ios", req.Platform)
		writeJSON(t, w, http.StatusOK, refreshResponse{Session: sessionResponse{
			AccessToken:     "acc-2",
			AccessExpiresAt: time.Now().Add(15 * time.Minute),
			RefreshToken:    "ref-2",
		}})
	})

	svc, _ := newTestService(t, mux, session.PlatformIOS)
	require.NoError(t, svc.Store().Set(session.Tokens{AccessToken: "acc-1", RefreshToken: "ref-1"}))

	require.NoError(t, svc.Refresh(context.Background()))

	tok, ok := svc.Store().Current()
	require.True(t, ok)
	assert.Equal(t, "ref-2", tok.RefreshToken)
}

func TestRefresh_BearerWithoutRefreshTokenFails(t *testing.T) {
	var hits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/capabilities", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("POST /api/auth/mobile-refresh", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	svc, _ := newTestService(t, mux, session.PlatformIOS)

	err := svc.Refresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.Zero(t, hits.Load())
}

func TestNegotiate_BearerAdvertised(t *testing.T) {
	var hits atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/capabilities", func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		writeJSON(t, w, http.StatusOK, capabilitiesResponse{TokenTransport: "bearer"})
	})

	svc, _ := newTestService(t, mux, session.PlatformWeb)
	require.Equal(t, session.TransportCookie, svc.Store().Transport())

	require.NoError(t, svc.Negotiate(context.Background()))
	assert.Equal(t, session.TransportBearer, svc.Store().Transport())

	// Negotiation is once per process.
	require.NoError(t, svc.Negotiate(context.Background()))
	assert.Equal(t, int64(1), hits.Load())
}

func TestNegotiate_AbsentEndpointKeepsDefault(t *testing.T) {
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	}), session.PlatformAndroid)

	require.NoError(t, svc.Negotiate(context.Background()))
	assert.Equal(t, session.TransportBearer, svc.Store().Transport())
}

func TestMe_LoggedOutReturnsNilNil(t *testing.T) {
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), session.PlatformWeb)

	u, err := svc.Me(context.Background())
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestMe_ReturnsProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer acc-1", r.Header.Get("Authorization"))
		writeJSON(t, w, http.StatusOK, meResponse{User: User{ID: "u1", Name: "Ana", Email: "ana@example.com"}})
	})

	svc, _ := newTestService(t, mux, session.PlatformWeb)
	require.NoError(t, svc.Store().Set(session.Tokens{AccessToken: "acc-1"}))

	u, err := svc.Me(context.Background())
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Ana", u.Name)
	assert.Equal(t, "u1", svc.CurrentUser().ID)
}

func TestLogout_ClearsSessionAndFiresHooks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var ended atomic.Int64
	svc, _ := newTestService(t, mux, session.PlatformWeb,
		WithSessionEndHook(func() { ended.Add(1) }))
	require.NoError(t, svc.Store().Set(session.Tokens{AccessToken: "acc-1"}))

	require.NoError(t, svc.Logout(context.Background()))

	_, ok := svc.Store().Current()
	assert.False(t, ok)
	assert.Nil(t, svc.CurrentUser())
	assert.Equal(t, int64(1), ended.Load())
}

func TestLogout_RemoteFailureStillEndsLocally(t *testing.T) {
	svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), session.PlatformWeb)
	require.NoError(t, svc.Store().Set(session.Tokens{AccessToken: "acc-1"}))

	require.NoError(t, svc.Logout(context.Background()))
	_, ok := svc.Store().Current()
	assert.False(t, ok)
}

func TestRegister_WeakPasswordRejectedLocally(t *testing.T) {
	var hits atomic.Int64
	svc, _ := newTestService(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}), session.PlatformWeb)

	_, err := svc.Register(context.Background(), RegisterInput{
		Name:     "Ana",
		Email:    "ana@example.com",
		Password: "12345678",
	})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, hits.Load())
}

func TestChangePassword_PolicyChecked(t *testing.T) {
	var hits atomic.Int64
	svc, _ := newTestService(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}), session.PlatformWeb)

	err := svc.ChangePassword(context.Background(), ChangePasswordInput{
		CurrentPassword: "old-pass-1",
		NewPassword:     "short",
	})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, hits.Load())
}

func TestEnsureFresh_SkipsFreshToken(t *testing.T) {
	var refreshes atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/capabilities", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, _ *http.Request) {
		refreshes.Add(1)
		writeJSON(t, w, http.StatusOK, refreshResponse{Session: sessionResponse{
			AccessToken:     "acc-2",
			AccessExpiresAt: time.Now().Add(15 * time.Minute),
		}})
	})

	svc, _ := newTestService(t, mux, session.PlatformWeb)

	// No session at all: nothing to do.
	require.NoError(t, svc.EnsureFresh(context.Background()))
	assert.Zero(t, refreshes.Load())

	// A token far from expiry stays put.
	require.NoError(t, svc.Store().Set(session.Tokens{
		AccessToken:  "acc-1",
		AccessExpiry: time.Now().Add(time.Hour),
	}))
	require.NoError(t, svc.EnsureFresh(context.Background()))
	assert.Zero(t, refreshes.Load())

	// A token inside the skew window triggers one refresh.
	require.NoError(t, svc.Store().Set(session.Tokens{
		AccessToken:  "acc-1",
		AccessExpiry: time.Now().Add(5 * time.Second),
	}))
	require.NoError(t, svc.EnsureFresh(context.Background()))
	assert.Equal(t, int64(1), refreshes.Load())
}

func TestRefresh_NetworkErrorKeepsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	}))

	store := session.NewStore(session.PlatformWeb, nil)
	svc, err := NewService(srv.URL, store)
	require.NoError(t, err)
	require.NoError(t, store.Set(session.Tokens{AccessToken: "acc-1"}))

	srv.Close()

	err = svc.Refresh(context.Background())
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrRefreshFailed))

	tok, ok := store.Current()
	require.True(t, ok)
	assert.Equal(t, "acc-1", tok.AccessToken)
}
