package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"match-reftool/internal/apperror"
	"match-reftool/internal/config"
	"match-reftool/internal/constants"
	"match-reftool/internal/monitor"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

type tokenSource interface {
	Token(ctx context.Context) (string, error)
	InvalidateIf(rejected string) bool
}

type Client struct {
	baseURL     string
	tokens      tokenSource
	client      *fasthttp.Client
	metrics     *monitor.Metrics
	logger      zerolog.Logger
	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

type RateLimitInfo struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewClient(cfg *config.Config, tokens *TokenManager, metrics *monitor.Metrics, logger zerolog.Logger) *Client {
	return newClient(cfg.APIBaseURL, tokens, metrics, logger)
}

func newClient(baseURL string, tokens tokenSource, metrics *monitor.Metrics, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client: &fasthttp.Client{
			MaxConnsPerHost:     16,
			ReadTimeout:         constants.ExternalAPITimeout,
			WriteTimeout:        constants.ExternalAPITimeout,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		metrics: metrics,
		logger:  logger,
		rateLimit: RateLimitInfo{
			Limit:     60,
			Remaining: 60,
			UpdatedAt: time.Now(),
		},
	}
}

func (c *Client) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *Client) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if limit := string(resp.Header.Peek("X-RateLimit-Limit")); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			c.rateLimit.Limit = val
		}
	}
	if remaining := string(resp.Header.Peek("X-RateLimit-Remaining")); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			c.rateLimit.Remaining = val
		}
	}
	c.rateLimit.UpdatedAt = time.Now()
}

// Call performs an authenticated request against /api/v2/{path} and decodes
// the JSON body into T. A 401 invalidates the token and is retried once.
func Call[T any](ctx context.Context, c *Client, method, path string, params url.Values) (*T, error) {
	op := method + " " + path

	body, token, err := c.do(ctx, method, path, params)
	if status, ok := apperror.StatusOf(err); ok && status == fasthttp.StatusUnauthorized {
		c.logger.Warn().Str("op", op).Msg("token rejected, refreshing and retrying once")
		c.tokens.InvalidateIf(token)
		body, _, err = c.do(ctx, method, path, params)
	}
	if err != nil {
		return nil, err
	}

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, apperror.Decode(op, err)
	}
	return &result, nil
}

// do returns the body of a 2xx response and the token the request carried.
func (c *Client) do(ctx context.Context, method, path string, params url.Values) ([]byte, string, error) {
	op := method + " " + path
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, "", err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := c.baseURL + "/api/v2/" + strings.TrimLeft(path, "/")
	req.Header.SetMethod(method)
	if method == fasthttp.MethodGet || method == fasthttp.MethodDelete {
		if len(params) > 0 {
			uri += "?" + params.Encode()
		}
	} else if len(params) > 0 {
		req.Header.SetContentType("application/x-www-form-urlencoded")
		req.SetBodyString(params.Encode())
	}
	req.SetRequestURI(uri)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-version", constants.APIVersion)
	req.Header.Set("Authorization", "Bearer "+token)

	deadline := time.Now().Add(constants.ExternalAPITimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	endpoint := endpointLabel(path)
	start := time.Now()
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		c.metrics.ObserveAPIRequest(endpoint, 0)
		if errors.Is(err, fasthttp.ErrTimeout) {
			c.logger.Warn().Str("op", op).Dur("took", time.Since(start)).Msg("upstream request timed out")
		}
		return nil, token, apperror.Network(op, err)
	}

	c.updateRateLimit(resp)
	c.metrics.ObserveAPIRequest(endpoint, resp.StatusCode())

	c.logger.Debug().
		Str("op", op).
		Int("status", resp.StatusCode()).
		Dur("took", time.Since(start)).
		Msg("upstream request completed")

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, token, apperror.HTTPStatus(op, resp.StatusCode())
	}

	// the response is released on return
	return append([]byte(nil), resp.Body()...), token, nil
}

// endpointLabel keeps metric cardinality low: "matches/123" -> "matches".
func endpointLabel(path string) string {
	path = strings.TrimLeft(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
