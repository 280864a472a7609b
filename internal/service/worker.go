package service

import (
	"context"
	"fmt"
	"time"

	"match-reftool/internal/domain"

	"github.com/rs/zerolog"
)

type messageKind int

const (
	msgReset messageKind = iota
	msgMetadata
	msgAdd
	msgReplace
	msgFinished
)

type message struct {
	gen  uint64
	run  *Run
	kind messageKind

	metadata    domain.MatchMetadata
	event       domain.MatchEvent
	after       int64
	appendEvent bool
	result      Result
}

// worker executes one sync. It never touches the board; everything it finds
// is sent to the engine loop.
type worker struct {
	engine *Engine
	gen    uint64
	run    *Run
	mode   domain.SyncMode
	held   map[int64]*time.Time
	logger zerolog.Logger

	added   int
	removed int
}

func (w *worker) work(ctx context.Context, prev <-chan struct{}, exited chan struct{}) {
	defer close(exited)

	if prev != nil {
		<-prev
	}

	res := Result{SyncRun: domain.SyncRun{
		ID:        w.run.ID,
		MatchID:   w.run.MatchID,
		Requested: w.run.Requested,
		Mode:      w.mode,
		StartedAt: time.Now(),
	}}

	w.logger.Info().Str("requested", string(w.run.Requested)).Msg("sync started")

	err := ctx.Err()
	if err == nil {
		if w.mode == domain.SyncFull {
			err = w.full(ctx)
		} else {
			err = w.incremental(ctx)
		}
	}

	res.Added, res.Removed = w.added, w.removed
	switch {
	case ctx.Err() != nil:
		res.Status, res.Err = domain.SyncCancelled, ctx.Err()
	case err != nil:
		res.Status, res.Err, res.Error = domain.SyncFailed, err, err.Error()
	default:
		res.Status = domain.SyncSucceeded
	}

	// the loop keeps receiving until every worker has reported
	w.engine.inbox <- message{gen: w.gen, run: w.run, kind: msgFinished, result: res}
}

// full clears the board, then streams the snapshot in server order.
func (w *worker) full(ctx context.Context) error {
	if err := w.send(ctx, message{kind: msgReset}); err != nil {
		return err
	}

	snap, err := w.engine.fetcher.GetMatch(ctx, w.run.MatchID)
	if err != nil {
		return fmt.Errorf("failed to fetch match: %w", err)
	}
	w.logger.Debug().Int("event_count", len(snap.Events)).Msg("snapshot fetched")

	if err := w.send(ctx, message{kind: msgMetadata, metadata: snap.Metadata}); err != nil {
		return err
	}

	for _, ev := range snap.Events {
		if err := w.engine.users.Prefetch(ctx, ev.UserIDs()); err != nil {
			return fmt.Errorf("failed to resolve users of event %d: %w", ev.ID, err)
		}
		if err := w.send(ctx, message{kind: msgAdd, event: ev, appendEvent: true}); err != nil {
			return err
		}
		w.added++

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}

// incremental diffs the snapshot against the events held when the sync was
// launched. Users are resolved before the board is touched, so a failed
// lookup leaves it as it was. Held events that vanished remotely stay.
func (w *worker) incremental(ctx context.Context) error {
	snap, err := w.engine.fetcher.GetMatch(ctx, w.run.MatchID)
	if err != nil {
		return fmt.Errorf("failed to fetch match: %w", err)
	}

	var userIDs []int64
	changed := 0
	for _, ev := range snap.Events {
		if w.unchanged(ev) {
			continue
		}
		changed++
		userIDs = append(userIDs, ev.UserIDs()...)
	}
	w.logger.Debug().
		Int("event_count", len(snap.Events)).
		Int("held_count", len(w.held)).
		Int("changed_count", changed).
		Msg("snapshot diffed")

	if err := w.engine.users.Prefetch(ctx, dedupe(userIDs)); err != nil {
		return fmt.Errorf("failed to resolve users: %w", err)
	}

	if err := w.send(ctx, message{kind: msgMetadata, metadata: snap.Metadata}); err != nil {
		return err
	}

	var after int64
	for _, ev := range snap.Events {
		if w.unchanged(ev) {
			after = ev.ID
			continue
		}

		kind := msgAdd
		if _, held := w.held[ev.ID]; held {
			w.logger.Debug().Int64("event_id", ev.ID).Msg("round completion changed, replacing event")
			kind = msgReplace
		}
		if err := w.send(ctx, message{kind: kind, event: ev, after: after}); err != nil {
			return err
		}
		if kind == msgReplace {
			w.removed++
		}
		w.added++
		after = ev.ID

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}

func (w *worker) unchanged(ev domain.MatchEvent) bool {
	marker, held := w.held[ev.ID]
	return held && domain.SameCompletion(marker, ev.CompletionMarker())
}

func (w *worker) send(ctx context.Context, m message) error {
	m.gen, m.run = w.gen, w.run
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case w.engine.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
