package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu         sync.Mutex
	token      string
	nextToken  string
	refreshErr error
	refreshes  int
}

func (f *fakeSession) AccessToken() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.token != ""
}

func (f *fakeSession) Refresh(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.token = f.nextToken
	return nil
}

func (f *fakeSession) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

func fastPolicy(maxRetries int) RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxRetries = maxRetries
	p.Backoff = func(int) time.Duration { return time.Millisecond }
	return p
}

func TestDo_ExpiredTokenRefreshAndRetry(t *testing.T) {
	sess := &fakeSession{token: "stale", nextToken: "fresh"}

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"Token inválido ou expirado"}`))
			return
		}
		_, _ = w.Write([]byte(`{"projects":[{"id":"p1"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, sess, WithRetryPolicy(fastPolicy(2)))
	require.NoError(t, err)

	res, err := c.Get(context.Background(), "/api/projects")
	require.NoError(t, err)
	require.NotNil(t, res)

	var body struct {
		Projects []struct{ ID string } `json:"projects"`
	}
	require.NoError(t, res.Decode(&body))
	require.Len(t, body.Projects, 1)
	assert.Equal(t, "p1", body.Projects[0].ID)

	// Exactly one refresh, then the retried request used the new token.
	assert.Equal(t, 1, sess.refreshCount())
	assert.Equal(t, int32(2), requests.Load())
}

func TestDo_RetryBoundRespected(t *testing.T) {
	sess := &fakeSession{token: "stale", nextToken: "still-stale"}

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("token expired"))
	}))
	defer srv.Close()

	var hooks atomic.Int32
	c, err := NewClient(srv.URL, sess,
		WithRetryPolicy(fastPolicy(2)),
		WithUnauthorizedHook(func() { hooks.Add(1) }),
	)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "/api/projects")
	require.ErrorIs(t, err, ErrTokenExpired)

	// One refresh, initial send + 2 bounded retries, hook fired once.
	assert.Equal(t, 1, sess.refreshCount())
	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, int32(1), hooks.Load())
}

func TestDo_ReturnNilOnUnauthorized(t *testing.T) {
	sess := &fakeSession{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var hooks atomic.Int32
	c, err := NewClient(srv.URL, sess, WithUnauthorizedHook(func() { hooks.Add(1) }))
	require.NoError(t, err)

	// Two successive 401s both yield nil without refresh or hook.
	for i := 0; i < 2; i++ {
		res, err := c.Get(context.Background(), "/api/auth/me", ReturnNilOnUnauthorized())
		require.NoError(t, err)
		require.Nil(t, res)
	}
	assert.Equal(t, 0, sess.refreshCount())
	assert.Equal(t, int32(0), hooks.Load())
}

func TestDo_UnauthorizedRefreshRecovers(t *testing.T) {
	sess := &fakeSession{nextToken: "fresh"} // starts with no token

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, sess)
	require.NoError(t, err)

	res, err := c.Get(context.Background(), "/api/auth/me")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, sess.refreshCount())
}

func TestDo_FailedRefreshFiresHookOnce(t *testing.T) {
	sess := &fakeSession{token: "stale", refreshErr: errors.New("refresh rejected")}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var hooks atomic.Int32
	c, err := NewClient(srv.URL, sess, WithUnauthorizedHook(func() { hooks.Add(1) }))
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "/api/tasks")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), hooks.Load())

	// A second failing call must not fire the hook again (no redirect loop).
	_, err = c.Get(context.Background(), "/api/tasks")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), hooks.Load())

	// After re-arming (successful login), a later loss fires it again.
	c.RearmUnauthorizedHook()
	_, err = c.Get(context.Background(), "/api/tasks")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(2), hooks.Load())
}

func TestDo_ForbiddenWithoutMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("you shall not pass"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, &fakeSession{token: "t"})
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "/api/admin")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestDo_OtherStatusSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream sad"))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, &fakeSession{token: "t"})
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "/api/projects")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Contains(t, apiErr.Error(), "upstream sad")
}

func TestDo_NetworkErrorTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, &fakeSession{})
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "/api/projects")
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)

	// The shared policy treats transport failures as retryable.
	assert.True(t, DefaultRetryPolicy().Retryable(err))
}

func TestDo_QueryStringPreserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tasks" || r.URL.Query().Get("status") != "open" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, &fakeSession{token: "t"})
	require.NoError(t, err)

	res, err := c.Get(context.Background(), "/api/tasks?status=open")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
}

func TestIsExpiredTokenBody(t *testing.T) {
	assert.True(t, isExpiredTokenBody([]byte(`{"message":"Token inválido ou expirado"}`)))
	assert.True(t, isExpiredTokenBody([]byte("JWT EXPIRED")))
	assert.False(t, isExpiredTokenBody([]byte("insufficient role")))
}

func TestRetryPolicy_Do(t *testing.T) {
	p := fastPolicy(2)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &NetworkError{URL: "x", Err: errors.New("conn refused")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	sentinel := errors.New("not retryable")
	err = p.Do(context.Background(), func(context.Context) error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)

	calls = 0
	err = p.Do(context.Background(), func(context.Context) error {
		calls++
		return &NetworkError{URL: "x", Err: errors.New("down")}
	})
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, 3, calls) // initial + MaxRetries
}
