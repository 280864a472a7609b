package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"match-reftool/internal/constants"
	"match-reftool/internal/domain"
	"match-reftool/internal/monitor"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

var ErrEngineClosed = errors.New("sync engine closed")

type MatchFetcher interface {
	GetMatch(ctx context.Context, matchID int64) (*domain.MatchSnapshot, error)
}

type UserResolver interface {
	Prefetch(ctx context.Context, userIDs []int64) error
}

type SyncRecorder interface {
	Record(ctx context.Context, run domain.SyncRun) error
}

type NotificationKind string

const (
	NotifySyncStarted  NotificationKind = "sync_started"
	NotifyCleared      NotificationKind = "cleared"
	NotifyMetadata     NotificationKind = "metadata"
	NotifyEventAdded   NotificationKind = "event_added"
	NotifyEventRemoved NotificationKind = "event_removed"
	NotifyFinished     NotificationKind = "finished"
)

// Notification describes one change applied to the board, in the order it was
// applied. For event_added, After is the id of the event it follows (0 = head).
type Notification struct {
	Kind     NotificationKind      `json:"kind"`
	RunID    string                `json:"run_id"`
	MatchID  int64                 `json:"match_id"`
	Metadata *domain.MatchMetadata `json:"metadata,omitempty"`
	Event    *domain.MatchEvent    `json:"event,omitempty"`
	After    int64                 `json:"after,omitempty"`
	EventID  int64                 `json:"event_id,omitempty"`
	Result   *Result               `json:"result,omitempty"`
}

type Result struct {
	domain.SyncRun
	Err error `json:"-"`
}

// Run is a handle on one sync invocation. It finishes exactly once.
type Run struct {
	ID        string
	MatchID   int64
	Requested domain.SyncMode

	done   chan struct{}
	result Result
}

func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) Result() Result { return r.result }

func (r *Run) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

type subscriber struct {
	ch   chan Notification
	gone chan struct{}
	once sync.Once
}

type activeRun struct {
	gen    uint64
	run    *Run
	cancel context.CancelFunc
	exited chan struct{}
}

// Engine synchronizes one tracked match at a time. A single loop goroutine owns
// the board; sync workers report to it over inbox and every command runs on it.
type Engine struct {
	fetcher  MatchFetcher
	users    UserResolver
	recorder SyncRecorder
	metrics  *monitor.Metrics
	logger   zerolog.Logger

	commands  chan func()
	inbox     chan message
	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	recording sync.WaitGroup

	// loop-owned
	board       Board
	tracked     int64
	generation  uint64
	active      *activeRun
	workers     int
	subscribers map[int]*subscriber
	nextSub     int
}

// NewEngine starts the engine loop. recorder may be nil.
func NewEngine(fetcher MatchFetcher, users UserResolver, recorder SyncRecorder, metrics *monitor.Metrics, logger zerolog.Logger) *Engine {
	e := &Engine{
		fetcher:     fetcher,
		users:       users,
		recorder:    recorder,
		metrics:     metrics,
		logger:      logger,
		commands:    make(chan func()),
		inbox:       make(chan message),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
		subscribers: make(map[int]*subscriber),
	}
	go e.loop()
	return e
}

func (e *Engine) FullSync(ctx context.Context, matchID int64) (*Run, error) {
	return e.start(ctx, matchID, domain.SyncFull)
}

// IncrementalSync reconciles the board with the remote snapshot of matchID, or
// rebuilds it when matchID is not the tracked match.
func (e *Engine) IncrementalSync(ctx context.Context, matchID int64) (*Run, error) {
	return e.start(ctx, matchID, domain.SyncIncremental)
}

func (e *Engine) SyncLink(ctx context.Context, link, mode string) (*Run, error) {
	matchID, err := ParseMatchLink(link)
	if err != nil {
		return nil, err
	}
	requested, err := ParseSyncMode(mode)
	if err != nil {
		return nil, err
	}
	return e.start(ctx, matchID, requested)
}

func (e *Engine) Cancel() bool {
	var cancelled bool
	_ = e.exec(func() {
		if e.active != nil {
			e.active.cancel()
			cancelled = true
		}
	})
	return cancelled
}

func (e *Engine) Snapshot() BoardView {
	var view BoardView
	_ = e.exec(func() {
		view = e.board.View()
		view.Tracked = e.tracked
		view.Busy = e.active != nil
	})
	return view
}

func (e *Engine) Busy() bool {
	var busy bool
	_ = e.exec(func() { busy = e.active != nil })
	return busy
}

func (e *Engine) TrackedMatch() int64 {
	var tracked int64
	_ = e.exec(func() { tracked = e.tracked })
	return tracked
}

// Subscribe returns a stream of notifications and a function that ends it.
// The stream is closed on unsubscribe or when the engine closes. Slow readers
// hold up the engine loop.
func (e *Engine) Subscribe() (<-chan Notification, func()) {
	sub := &subscriber{
		ch:   make(chan Notification, constants.NotificationBuffer),
		gone: make(chan struct{}),
	}

	var id int
	if err := e.exec(func() {
		id = e.nextSub
		e.nextSub++
		e.subscribers[id] = sub
	}); err != nil {
		close(sub.ch)
		return sub.ch, func() {}
	}

	return sub.ch, func() {
		sub.once.Do(func() { close(sub.gone) })
		_ = e.exec(func() {
			if _, ok := e.subscribers[id]; ok {
				delete(e.subscribers, id)
				close(sub.ch)
			}
		})
	}
}

// Close cancels the active sync, waits for every worker to report and for
// history writes to finish, then closes all subscriptions.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.stop)
		<-e.stopped
		e.recording.Wait()
		e.logger.Info().Msg("sync engine stopped")
	})
	return nil
}

func (e *Engine) exec(fn func()) error {
	done := make(chan struct{})
	select {
	case e.commands <- func() { fn(); close(done) }:
	case <-e.stopped:
		return ErrEngineClosed
	}
	<-done
	return nil
}

func (e *Engine) start(ctx context.Context, matchID int64, requested domain.SyncMode) (*Run, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	run := &Run{ID: runID, MatchID: matchID, Requested: requested, done: make(chan struct{})}
	if err := e.exec(func() { e.launch(ctx, run) }); err != nil {
		return nil, err
	}
	return run, nil
}

// launch runs on the loop. It supersedes the active sync and hands the new one
// to a worker that first waits for its predecessor to exit.
func (e *Engine) launch(ctx context.Context, run *Run) {
	var prev <-chan struct{}
	if e.active != nil {
		e.logger.Info().
			Str("run_id", e.active.run.ID).
			Str("superseded_by", run.ID).
			Msg("superseding active sync")
		e.active.cancel()
		prev = e.active.exited
	}

	mode := run.Requested
	if mode == domain.SyncIncremental && (run.MatchID != e.tracked || e.board.MatchID() != run.MatchID) {
		mode = domain.SyncFull
	}

	var held map[int64]*time.Time
	if mode == domain.SyncIncremental {
		held = e.board.Markers()
	}

	e.generation++
	runCtx, cancel := context.WithCancel(ctx)
	a := &activeRun{gen: e.generation, run: run, cancel: cancel, exited: make(chan struct{})}
	e.active = a
	e.workers++

	e.broadcast(Notification{Kind: NotifySyncStarted, RunID: run.ID, MatchID: run.MatchID})

	w := &worker{
		engine: e,
		gen:    a.gen,
		run:    run,
		mode:   mode,
		held:   held,
		logger: e.logger.With().Str("run_id", run.ID).Int64("match_id", run.MatchID).Str("mode", string(mode)).Logger(),
	}
	go w.work(runCtx, prev, a.exited)
}

func (e *Engine) loop() {
	defer close(e.stopped)

	for {
		select {
		case fn := <-e.commands:
			fn()
		case m := <-e.inbox:
			e.handle(m)
		case <-e.stop:
			e.shutdown()
			return
		}
	}
}

func (e *Engine) shutdown() {
	if e.active != nil {
		e.active.cancel()
	}
	for e.workers > 0 {
		e.handle(<-e.inbox)
	}
	for id, sub := range e.subscribers {
		delete(e.subscribers, id)
		close(sub.ch)
	}
}

func (e *Engine) handle(m message) {
	if m.kind == msgFinished {
		e.finish(m)
		return
	}
	if m.gen != e.generation {
		return
	}

	n := Notification{RunID: m.run.ID, MatchID: m.run.MatchID}
	switch m.kind {
	case msgReset:
		e.board.Reset(m.run.MatchID)
		n.Kind = NotifyCleared
	case msgMetadata:
		e.board.SetMetadata(m.metadata)
		meta := m.metadata
		n.Kind, n.Metadata = NotifyMetadata, &meta
	case msgAdd:
		if m.appendEvent {
			e.board.Append(m.event)
		} else {
			e.board.InsertAfter(m.event, m.after)
		}
		ev := m.event
		n.Kind, n.Event, n.After = NotifyEventAdded, &ev, m.after
	case msgReplace:
		// removal and re-add apply as one step
		if e.board.Remove(m.event.ID) {
			e.broadcast(Notification{RunID: n.RunID, MatchID: n.MatchID, Kind: NotifyEventRemoved, EventID: m.event.ID})
		}
		e.board.InsertAfter(m.event, m.after)
		ev := m.event
		n.Kind, n.Event, n.After = NotifyEventAdded, &ev, m.after
	}

	e.metrics.SetHeldEvents(e.board.Len())
	e.broadcast(n)
}

func (e *Engine) finish(m message) {
	e.workers--

	res := m.result
	res.FinishedAt = time.Now()
	if m.gen != e.generation && res.Status != domain.SyncCancelled {
		res.Status, res.Err, res.Error = domain.SyncCancelled, context.Canceled, ""
	}
	if m.gen == e.generation {
		e.active = nil
		if res.Status == domain.SyncSucceeded {
			e.tracked = res.MatchID
		}
	}

	m.run.result = res
	close(m.run.done)

	took := res.FinishedAt.Sub(res.StartedAt)
	e.metrics.ObserveSync(string(res.Mode), string(res.Status), took)

	logger := e.logger.With().Str("run_id", res.ID).Int64("match_id", res.MatchID).Str("mode", string(res.Mode)).Logger()
	switch res.Status {
	case domain.SyncSucceeded:
		logger.Info().Int("added", res.Added).Int("removed", res.Removed).Dur("took", took).Msg("sync succeeded")
	case domain.SyncCancelled:
		logger.Info().Int("added", res.Added).Int("removed", res.Removed).Dur("took", took).Msg("sync cancelled")
	default:
		logger.Error().Err(res.Err).Dur("took", took).Msg("sync failed")
	}

	e.broadcast(Notification{Kind: NotifyFinished, RunID: res.ID, MatchID: res.MatchID, Result: &res})
	e.record(res.SyncRun)
}

func (e *Engine) record(run domain.SyncRun) {
	if e.recorder == nil {
		return
	}

	e.recording.Add(1)
	go func() {
		defer e.recording.Done()
		ctx, cancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
		defer cancel()
		if err := e.recorder.Record(ctx, run); err != nil {
			e.logger.Warn().Err(err).Str("run_id", run.ID).Msg("failed to record sync run")
		}
	}()
}

func (e *Engine) broadcast(n Notification) {
	for _, sub := range e.subscribers {
		select {
		case sub.ch <- n:
		case <-sub.gone:
		}
	}
}
