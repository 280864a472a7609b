package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"match-reftool/internal/apperror"
	"match-reftool/internal/domain"
	"match-reftool/internal/middleware"
	"match-reftool/internal/monitor"
	"match-reftool/internal/scoring"
	"match-reftool/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type SyncEngine interface {
	SyncLink(ctx context.Context, link, mode string) (*service.Run, error)
	Cancel() bool
	Snapshot() service.BoardView
	Subscribe() (<-chan service.Notification, func())
}

type UserLookup interface {
	Get(userID int64) (*domain.User, bool)
}

type RunHistory interface {
	ListRecent(ctx context.Context, limit int) ([]domain.SyncRun, error)
}

// RefereeServer exposes the sync engine to the referee UI over JSON and
// server-sent events.
type RefereeServer struct {
	engine  SyncEngine
	users   UserLookup
	history RunHistory
	scorer  *scoring.Scorer
	metrics *monitor.Metrics
	logger  zerolog.Logger
}

func NewRefereeServer(engine SyncEngine, users UserLookup, history RunHistory, scorer *scoring.Scorer, metrics *monitor.Metrics, logger zerolog.Logger) *RefereeServer {
	return &RefereeServer{
		engine:  engine,
		users:   users,
		history: history,
		scorer:  scorer,
		metrics: metrics,
		logger:  logger,
	}
}

func (s *RefereeServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID(s.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/sync", s.handleSync)
		r.Post("/sync/cancel", s.handleCancel)
		r.Get("/sync/runs", s.handleRuns)
		r.Get("/match", s.handleMatch)
		r.Get("/events", s.handleEvents)
		r.Get("/users/{id}", s.handleUser)
	})
	r.Handle("/metrics", s.metrics.Handler())

	return r
}

type SyncRequest struct {
	Link string `json:"link"`
	Mode string `json:"mode"` // "auto" (default) or "full"
}

type SyncResponse struct {
	RunID     string          `json:"run_id"`
	MatchID   int64           `json:"match_id"`
	Requested domain.SyncMode `json:"requested"`
}

func (s *RefereeServer) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperror.ValidationFailed("body", "request body must be JSON with a link"))
		return
	}

	// the sync outlives this request
	run, err := s.engine.SyncLink(context.WithoutCancel(r.Context()), req.Link, req.Mode)
	if err != nil {
		writeError(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Str("run_id", run.ID).
		Int64("match_id", run.MatchID).
		Str("requested", string(run.Requested)).
		Msg("sync requested")

	writeJSON(w, r, http.StatusAccepted, SyncResponse{RunID: run.ID, MatchID: run.MatchID, Requested: run.Requested})
}

func (s *RefereeServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if s.engine.Cancel() {
		zerolog.Ctx(r.Context()).Info().Msg("sync cancel requested")
	}
	w.WriteHeader(http.StatusNoContent)
}

type MatchResponse struct {
	service.BoardView
	Tallies []scoring.RoundTally  `json:"tallies"`
	Users   map[int64]domain.User `json:"users"`
}

func (s *RefereeServer) handleMatch(w http.ResponseWriter, r *http.Request) {
	view := s.engine.Snapshot()

	var meta domain.MatchMetadata
	if view.Metadata != nil {
		meta = *view.Metadata
	}

	resp := MatchResponse{
		BoardView: view,
		Tallies:   s.scorer.Tally(meta, view.Events),
		Users:     make(map[int64]domain.User),
	}
	for _, ev := range view.Events {
		for _, id := range ev.UserIDs() {
			if user, ok := s.users.Get(id); ok {
				resp.Users[id] = *user
			}
		}
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func (s *RefereeServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, apperror.ValidationFailed("limit", "limit must be a positive integer"))
			return
		}
		limit = n
	}

	runs := []domain.SyncRun{}
	if s.history != nil {
		var err error
		if runs, err = s.history.ListRecent(r.Context(), limit); err != nil {
			writeError(w, r, err)
			return
		}
	}

	writeJSON(w, r, http.StatusOK, runs)
}

func (s *RefereeServer) handleUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, apperror.ValidationFailed("id", "user id must be a positive integer"))
		return
	}

	user, ok := s.users.Get(id)
	if !ok {
		writeJSON(w, r, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "user is not cached"})
		return
	}
	writeJSON(w, r, http.StatusOK, user)
}

// handleEvents streams engine notifications as server-sent events until the
// client goes away or the engine shuts down.
func (s *RefereeServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fmt.Errorf("streaming unsupported by response writer"))
		return
	}

	notifications, unsubscribe := s.engine.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	logger := zerolog.Ctx(r.Context())
	logger.Debug().Msg("event stream opened")

	for {
		select {
		case <-r.Context().Done():
			logger.Debug().Msg("event stream closed by client")
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				logger.Error().Err(err).Str("kind", string(n.Kind)).Msg("failed to encode notification")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Kind, data)
			flusher.Flush()
		}
	}
}
