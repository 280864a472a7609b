package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"match-reftool/internal/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type ping struct {
	OK bool `json:"ok"`
}

func TestCall_AttachesHeaders(t *testing.T) {
	up := newFakeUpstream(t)
	up.handle("/api/v2/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "1200")
		w.Header().Set("X-RateLimit-Remaining", "1199")
		fmt.Fprint(w, `{"ok":true}`)
	})
	client, _ := up.client("secret")

	resp, err := Call[ping](context.Background(), client, fasthttp.MethodGet, "ping", url.Values{"mode": {"osu"}})
	require.NoError(t, err)
	assert.True(t, resp.OK)

	req := up.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "20250101", req.Header.Get("x-api-version"))
	assert.Equal(t, "Bearer token-1", req.Header.Get("Authorization"))
	assert.Equal(t, "osu", req.URL.Query().Get("mode"))

	limits := client.GetRateLimitInfo()
	assert.Equal(t, 1200, limits.Limit)
	assert.Equal(t, 1199, limits.Remaining)
}

func TestCall_PostSendsFormBody(t *testing.T) {
	up := newFakeUpstream(t)
	up.handle("/api/v2/echo", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		fmt.Fprintf(w, `{"ok":%t}`, r.Method == http.MethodPost && r.PostForm.Get("value") == "42")
	})
	client, _ := up.client("secret")

	resp, err := Call[ping](context.Background(), client, fasthttp.MethodPost, "echo", url.Values{"value": {"42"}})
	require.NoError(t, err)
	assert.True(t, resp.OK)
}

func TestCall_SingleGrantAcrossCalls(t *testing.T) {
	up := newFakeUpstream(t)
	up.json("/api/v2/ping", `{"ok":true}`)
	client, _ := up.client("secret")

	for i := 0; i < 5; i++ {
		_, err := Call[ping](context.Background(), client, fasthttp.MethodGet, "ping", nil)
		require.NoError(t, err)
	}

	assert.EqualValues(t, 1, up.grants.Load())
}

func TestCall_RetriesOnceOnUnauthorized(t *testing.T) {
	up := newFakeUpstream(t)
	var calls atomic.Int32
	up.handle("/api/v2/ping", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer token-2", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"ok":true}`)
	})
	client, _ := up.client("secret")

	resp, err := Call[ping](context.Background(), client, fasthttp.MethodGet, "ping", nil)
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 2, up.grants.Load())
}

func TestCall_GivesUpAfterSecondUnauthorized(t *testing.T) {
	up := newFakeUpstream(t)
	up.rejectAll.Store(true)
	client, _ := up.client("secret")

	_, err := Call[ping](context.Background(), client, fasthttp.MethodGet, "ping", nil)
	require.Error(t, err)

	status, ok := apperror.StatusOf(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.EqualValues(t, 2, up.grants.Load())
}

func TestCall_ConcurrentUnauthorizedSharesOneRegrant(t *testing.T) {
	up := newFakeUpstream(t)
	var stale sync.WaitGroup
	stale.Add(2)
	up.handle("/api/v2/ping", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer token-1" {
			stale.Done()
			stale.Wait()
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	})
	client, tokens := up.client("secret")
	_, err := tokens.Token(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = Call[ping](context.Background(), client, fasthttp.MethodGet, "ping", nil)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 2, up.grants.Load())
}

func TestCall_ErrorKinds(t *testing.T) {
	up := newFakeUpstream(t)
	up.handle("/api/v2/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	up.json("/api/v2/garbled", `{"ok": "yes"`)
	client, _ := up.client("secret")

	_, err := Call[ping](context.Background(), client, fasthttp.MethodGet, "broken", nil)
	assert.True(t, errors.Is(err, apperror.ErrHTTP))
	status, _ := apperror.StatusOf(err)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	_, err = Call[ping](context.Background(), client, fasthttp.MethodGet, "garbled", nil)
	assert.True(t, errors.Is(err, apperror.ErrDecode))

	_, err = Call[ping](context.Background(), client, fasthttp.MethodGet, "missing", nil)
	status, _ = apperror.StatusOf(err)
	assert.Equal(t, http.StatusNotFound, status)

	// no retries on server errors
	assert.EqualValues(t, 1, up.grants.Load())
}

func TestCall_NetworkError(t *testing.T) {
	up := newFakeUpstream(t)
	client, tokens := up.client("secret")

	_, err := tokens.Token(context.Background())
	require.NoError(t, err)
	up.srv.Close()

	_, err = Call[ping](context.Background(), client, fasthttp.MethodGet, "ping", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrNetwork))
}

func TestCall_TimeoutIsNetworkError(t *testing.T) {
	up := newFakeUpstream(t)
	up.handle("/api/v2/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		fmt.Fprint(w, `{"ok":true}`)
	})
	client, tokens := up.client("secret")
	_, err := tokens.Token(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = Call[ping](ctx, client, fasthttp.MethodGet, "slow", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrNetwork))
	assert.Less(t, time.Since(start), time.Second)
}

func TestCall_AuthenticationFailurePropagates(t *testing.T) {
	up := newFakeUpstream(t)
	up.json("/api/v2/ping", `{"ok":true}`)
	client, _ := up.client("wrong")

	_, err := Call[ping](context.Background(), client, fasthttp.MethodGet, "ping", nil)
	assert.True(t, errors.Is(err, apperror.ErrAuthentication))
	assert.Nil(t, up.lastRequest())
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "matches", endpointLabel("matches/123"))
	assert.Equal(t, "users", endpointLabel("/users/2"))
	assert.Equal(t, "ping", endpointLabel("ping"))
}
