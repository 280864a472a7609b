package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"match-reftool/internal/constants"
	"match-reftool/internal/domain"

	"github.com/rs/zerolog"
)

const getUser = `
SELECT id, username, country_code, avatar_url, fetched_at
FROM users
WHERE id = ?`

const upsertUser = `
INSERT INTO users (id, username, country_code, avatar_url, fetched_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    username = excluded.username,
    country_code = excluded.country_code,
    avatar_url = excluded.avatar_url,
    fetched_at = excluded.fetched_at`

type UserRepository struct {
	db     *sql.DB
	ttl    time.Duration
	logger zerolog.Logger
}

func NewUserRepository(sqlDB *sql.DB, logger zerolog.Logger) *UserRepository {
	return &UserRepository{
		db:     sqlDB,
		ttl:    constants.UserRecordTTL,
		logger: logger,
	}
}

// Get returns the stored user, or nil when it is unknown or was fetched longer
// than the record TTL ago.
func (r *UserRepository) Get(ctx context.Context, userID int64) (*domain.User, error) {
	var user domain.User
	err := r.db.QueryRowContext(ctx, getUser, userID).Scan(
		&user.ID,
		&user.Username,
		&user.CountryCode,
		&user.AvatarURL,
		&user.FetchedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}

	if age := time.Since(user.FetchedAt); age > r.ttl {
		r.logger.Debug().
			Int64("user_id", userID).
			Time("fetched_at", user.FetchedAt).
			Dur("ttl", r.ttl).
			Msg("stored user is stale")
		return nil, nil
	}

	return &user, nil
}

func (r *UserRepository) Upsert(ctx context.Context, user *domain.User) error {
	fetchedAt := user.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, upsertUser,
		user.ID,
		user.Username,
		user.CountryCode,
		user.AvatarURL,
		fetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user %d: %w", user.ID, err)
	}
	return nil
}
