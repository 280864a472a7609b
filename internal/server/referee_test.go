package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"match-reftool/internal/apperror"
	"match-reftool/internal/domain"
	"match-reftool/internal/monitor"
	"match-reftool/internal/scoring"
	"match-reftool/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	mu   sync.Mutex
	snap *domain.MatchSnapshot
	err  error
}

func (f *stubFetcher) GetMatch(ctx context.Context, matchID int64) (*domain.MatchSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := *f.snap
	out.Metadata.ID = matchID
	return &out, nil
}

type stubUsers map[int64]*domain.User

func (u stubUsers) Prefetch(ctx context.Context, userIDs []int64) error { return nil }

func (u stubUsers) Get(userID int64) (*domain.User, bool) {
	user, ok := u[userID]
	return user, ok
}

type stubHistory struct {
	runs  []domain.SyncRun
	limit int
}

func (h *stubHistory) ListRecent(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	h.limit = limit
	return h.runs, nil
}

type fixture struct {
	srv     *httptest.Server
	engine  *service.Engine
	fetcher *stubFetcher
	history *stubHistory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	author := int64(2)
	fetcher := &stubFetcher{snap: &domain.MatchSnapshot{
		Metadata: domain.MatchMetadata{Name: "OWC: (Japan) vs (Korea)", BlueTeam: "Japan", RedTeam: "Korea"},
		Events: []domain.MatchEvent{
			{ID: 10, Kind: domain.EventMatchCreated, UserID: &author},
			{ID: 11, Game: &domain.GameRound{
				ID:      110,
				EndTime: &end,
				Scores: []domain.Score{
					{UserID: 3, TotalScore: 300, Team: "blue"},
					{UserID: 4, TotalScore: 200, Team: "red"},
				},
			}},
		},
	}}
	users := stubUsers{
		2: {ID: 2, Username: "host"},
		3: {ID: 3, Username: "blue player"},
	}

	metrics := monitor.NewMetrics()
	engine := service.NewEngine(fetcher, users, nil, metrics, zerolog.Nop())
	history := &stubHistory{runs: []domain.SyncRun{{ID: "abc", MatchID: 1, Status: domain.SyncSucceeded}}}
	referee := NewRefereeServer(engine, users, history, scoring.NewScorer(nil), metrics, zerolog.Nop())

	srv := httptest.NewServer(referee.Routes())
	t.Cleanup(func() {
		srv.Close()
		engine.Close()
	})

	return &fixture{srv: srv, engine: engine, fetcher: fetcher, history: history}
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (f *fixture) syncAndWait(t *testing.T, link string) {
	t.Helper()
	resp := f.post(t, "/api/sync", `{"link":"`+link+`","mode":"full"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool {
		view := f.engine.Snapshot()
		return !view.Busy && view.Tracked != 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSync_StartsRun(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/sync", `{"link":"https://osu.ppy.sh/community/matches/123727"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body := decode[SyncResponse](t, resp)
	assert.NotEmpty(t, body.RunID)
	assert.Equal(t, int64(123727), body.MatchID)
	assert.Equal(t, domain.SyncIncremental, body.Requested)

	require.Eventually(t, func() bool {
		return f.engine.Snapshot().Tracked == 123727
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSync_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "not json", body: `link=1`, field: "body"},
		{name: "bad link", body: `{"link":"https://osu.ppy.sh/community/matches/"}`, field: "link"},
		{name: "bad mode", body: `{"link":"1","mode":"sometimes"}`, field: "mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.post(t, "/api/sync", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			body := decode[ErrorResponse](t, resp)
			assert.Equal(t, "validation_error", body.Error)
			assert.Equal(t, tt.field, body.Field)
		})
	}

	assert.False(t, f.engine.Snapshot().Busy)
	assert.Zero(t, f.engine.Snapshot().Tracked)
}

func TestMatch_ReturnsBoardWithTallies(t *testing.T) {
	f := newFixture(t)
	f.syncAndWait(t, "55")

	resp := f.get(t, "/api/match")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[MatchResponse](t, resp)
	assert.Equal(t, int64(55), body.Tracked)
	assert.Equal(t, []int64{10, 11}, body.EventIDs())
	require.NotNil(t, body.Metadata)
	assert.Equal(t, "Japan", body.Metadata.BlueTeam)

	require.Len(t, body.Tallies, 1)
	assert.Equal(t, scoring.TeamBlue, body.Tallies[0].Winner)
	assert.Equal(t, "Japan (300.00) : Korea (200.00) - Japan wins!", body.Tallies[0].Message)

	assert.Equal(t, "host", body.Users[2].Username)
	assert.Equal(t, "blue player", body.Users[3].Username)
	assert.NotContains(t, body.Users, int64(4))
}

func TestCancel_NoContent(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/sync/cancel", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRuns(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/sync/runs?limit=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := decode[[]domain.SyncRun](t, resp)
	require.Len(t, runs, 1)
	assert.Equal(t, "abc", runs[0].ID)
	assert.Equal(t, 5, f.history.limit)

	resp = f.get(t, "/api/sync/runs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUser(t *testing.T) {
	f := newFixture(t)

	resp := f.get(t, "/api/users/2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "host", decode[domain.User](t, resp).Username)

	resp = f.get(t, "/api/users/9")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.get(t, "/api/users/nope")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEvents_StreamsNotifications(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	f.post(t, "/api/sync", `{"link":"77","mode":"full"}`)

	var kinds []string
	for len(kinds) == 0 || kinds[len(kinds)-1] != string(service.NotifyFinished) {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if kind, ok := strings.CutPrefix(strings.TrimSpace(line), "event: "); ok {
			kinds = append(kinds, kind)
		}
	}

	assert.Equal(t, []string{
		string(service.NotifySyncStarted),
		string(service.NotifyCleared),
		string(service.NotifyMetadata),
		string(service.NotifyEventAdded),
		string(service.NotifyEventAdded),
		string(service.NotifyFinished),
	}, kinds)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.syncAndWait(t, "1")

	resp := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	scanner := bufio.NewScanner(resp.Body)
	found := false
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), `reftool_sync_runs_total{mode="full",status="succeeded"}`) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestWriteError_Mapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{apperror.ValidationFailed("link", "bad"), http.StatusBadRequest, "validation_error"},
		{apperror.Authentication(errors.New("invalid_client")), http.StatusBadGateway, "upstream_auth_error"},
		{apperror.Network("GET matches/1", errors.New("timeout")), http.StatusGatewayTimeout, "upstream_unavailable"},
		{apperror.HTTPStatus("GET matches/1", 404), http.StatusBadGateway, "upstream_error"},
		{apperror.Decode("GET matches/1", errors.New("eof")), http.StatusBadGateway, "upstream_error"},
		{service.ErrEngineClosed, http.StatusServiceUnavailable, "shutting_down"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
		var body ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, tt.kind, body.Error)
		assert.NotContains(t, body.Message, "disk on fire")
	}
}
