package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"match-reftool/internal/apperror"
	"match-reftool/internal/config"
	"match-reftool/internal/constants"
	"match-reftool/internal/monitor"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenManager holds one client-credentials token and re-grants it when it is
// missing, expired, or explicitly invalidated.
type TokenManager struct {
	oauth      clientcredentials.Config
	httpClient *http.Client
	metrics    *monitor.Metrics
	logger     zerolog.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

func NewTokenManager(cfg *config.Config, metrics *monitor.Metrics, logger zerolog.Logger) *TokenManager {
	return &TokenManager{
		oauth: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     strings.TrimRight(cfg.APIBaseURL, "/") + "/oauth/token",
			Scopes:       []string{constants.APIScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: &http.Client{Timeout: constants.ExternalAPITimeout},
		metrics:    metrics,
		logger:     logger,
	}
}

// Token returns the held access token, granting a new one first if needed.
// Concurrent callers share a single grant.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token.Valid() {
		return m.token.AccessToken, nil
	}

	grantCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()
	grantCtx = context.WithValue(grantCtx, oauth2.HTTPClient, m.httpClient)

	start := time.Now()
	token, err := m.oauth.Token(grantCtx)
	m.metrics.IncTokenGrants()
	if err != nil {
		m.logger.Error().Err(err).Dur("took", time.Since(start)).Msg("client credentials grant failed")
		return "", apperror.Authentication(err)
	}

	m.token = token
	m.logger.Info().
		Time("expires_at", token.Expiry).
		Dur("took", time.Since(start)).
		Msg("access token granted")

	return token.AccessToken, nil
}

// Invalidate drops the held token; the next Token call performs a new grant.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = nil
}

// InvalidateIf drops the held token only while it is still rejected, so a
// token granted by another caller after the same 401 survives.
func (m *TokenManager) InvalidateIf(rejected string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil || m.token.AccessToken != rejected {
		return false
	}
	m.token = nil
	return true
}

// Expiry reports when the held token expires; the zero time means none is held
// or the server gave no lifetime.
func (m *TokenManager) Expiry() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return time.Time{}
	}
	return m.token.Expiry
}
