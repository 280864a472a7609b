package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"match-reftool/internal/config"

	"github.com/rs/zerolog"
)

// fakeUpstream imitates the token endpoint and the v2 API.
type fakeUpstream struct {
	srv *httptest.Server

	grants    atomic.Int32
	tokenTTL  atomic.Int32 // expires_in seconds
	rejectAll atomic.Bool

	mu        sync.Mutex
	routes    map[string]http.HandlerFunc
	lastGrant map[string]string
	requests  []*http.Request
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{routes: make(map[string]http.HandlerFunc)}
	f.tokenTTL.Store(86400)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.grants.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.lastGrant = map[string]string{
			"client_id":     r.PostForm.Get("client_id"),
			"client_secret": r.PostForm.Get("client_secret"),
			"grant_type":    r.PostForm.Get("grant_type"),
			"scope":         r.PostForm.Get("scope"),
		}
		f.mu.Unlock()

		if r.PostForm.Get("client_secret") != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"invalid_client"}`)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"token_type":   "Bearer",
			"expires_in":   f.tokenTTL.Load(),
			"access_token": fmt.Sprintf("token-%d", n),
		})
	})
	mux.HandleFunc("/api/v2/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Clone(r.Context()))
		h, ok := f.routes[r.URL.Path]
		f.mu.Unlock()

		if f.rejectAll.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[path] = h
}

func (f *fakeUpstream) json(path, body string) {
	f.handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	})
}

func (f *fakeUpstream) lastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

func (f *fakeUpstream) config(secret string) *config.Config {
	return &config.Config{
		ClientID:     "1234",
		ClientSecret: secret,
		APIBaseURL:   f.srv.URL,
	}
}

func (f *fakeUpstream) client(secret string) (*Client, *TokenManager) {
	cfg := f.config(secret)
	tokens := NewTokenManager(cfg, nil, zerolog.Nop())
	return NewClient(cfg, tokens, nil, zerolog.Nop()), tokens
}
