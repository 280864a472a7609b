package repository

import (
	"context"
	"database/sql"
	"fmt"

	"match-reftool/internal/constants"
	"match-reftool/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const insertSyncRun = `
INSERT INTO sync_runs (id, match_id, requested, mode, status, error, added, removed, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const listSyncRuns = `
SELECT id, match_id, requested, mode, status, error, added, removed, started_at, finished_at
FROM sync_runs
ORDER BY finished_at DESC, rowid DESC
LIMIT ?`

const maxSyncRuns = 200

type SyncRunRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSyncRunRepository(sqlDB *sql.DB, logger zerolog.Logger) *SyncRunRepository {
	return &SyncRunRepository{db: sqlDB, logger: logger}
}

func (r *SyncRunRepository) Record(ctx context.Context, run domain.SyncRun) error {
	if run.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate sync run id: %w", err)
		}
		run.ID = id
	}

	_, err := r.db.ExecContext(ctx, insertSyncRun,
		run.ID,
		run.MatchID,
		string(run.Requested),
		string(run.Mode),
		string(run.Status),
		run.Error,
		run.Added,
		run.Removed,
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run %s: %w", run.ID, err)
	}

	r.logger.Debug().Str("run_id", run.ID).Str("status", string(run.Status)).Msg("sync run recorded")
	return nil
}

// ListRecent returns the latest runs, newest first. A non-positive limit uses
// the default page size.
func (r *SyncRunRepository) ListRecent(ctx context.Context, limit int) ([]domain.SyncRun, error) {
	if limit <= 0 {
		limit = constants.SyncRunsLimit
	}
	limit = min(limit, maxSyncRuns)

	rows, err := r.db.QueryContext(ctx, listSyncRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.SyncRun, 0, limit)
	for rows.Next() {
		var run domain.SyncRun
		var requested, mode, status string
		if err := rows.Scan(
			&run.ID,
			&run.MatchID,
			&requested,
			&mode,
			&status,
			&run.Error,
			&run.Added,
			&run.Removed,
			&run.StartedAt,
			&run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		run.Requested = domain.SyncMode(requested)
		run.Mode = domain.SyncMode(mode)
		run.Status = domain.SyncStatus(status)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}

	return runs, nil
}
