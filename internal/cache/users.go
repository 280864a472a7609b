package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"match-reftool/internal/constants"
	"match-reftool/internal/domain"
	"match-reftool/internal/monitor"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type UserFetcher interface {
	GetUser(ctx context.Context, userID int64) (*domain.User, error)
}

// UserStore is the persisted tier. Get returns nil without error when the id is
// unknown or its record is older than the TTL.
type UserStore interface {
	Get(ctx context.Context, userID int64) (*domain.User, error)
	Upsert(ctx context.Context, user *domain.User) error
}

// UserCache maps user ids to records for the life of the process. Each id is
// fetched at most once; concurrent misses for the same id share one lookup.
type UserCache struct {
	fetcher UserFetcher
	store   UserStore
	metrics *monitor.Metrics
	logger  zerolog.Logger

	mu     sync.RWMutex
	users  map[int64]*domain.User
	flight singleflight.Group
}

func NewUserCache(fetcher UserFetcher, store UserStore, metrics *monitor.Metrics, logger zerolog.Logger) *UserCache {
	return &UserCache{
		fetcher: fetcher,
		store:   store,
		metrics: metrics,
		logger:  logger,
		users:   make(map[int64]*domain.User),
	}
}

func (c *UserCache) Contains(userID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.users[userID]
	return ok
}

func (c *UserCache) Get(userID int64) (*domain.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	user, ok := c.users[userID]
	return user, ok
}

func (c *UserCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}

func (c *UserCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = make(map[int64]*domain.User)
}

// GetOrFetch returns the cached record, loading it from the store or the API on
// a miss. A caller whose ctx ends stops waiting; the shared lookup still
// completes and populates the cache.
func (c *UserCache) GetOrFetch(ctx context.Context, userID int64) (*domain.User, error) {
	if user, ok := c.Get(userID); ok {
		c.metrics.IncUserCache("hit")
		return user, nil
	}
	c.metrics.IncUserCache("miss")

	ch := c.flight.DoChan(strconv.FormatInt(userID, 10), func() (any, error) {
		return c.load(context.WithoutCancel(ctx), userID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.User), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *UserCache) Prefetch(ctx context.Context, userIDs []int64) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(constants.UserPrefetchLimit)

	for _, id := range userIDs {
		if c.Contains(id) {
			continue
		}
		g.Go(func() error {
			_, err := c.GetOrFetch(gCtx, id)
			return err
		})
	}

	return g.Wait()
}

func (c *UserCache) load(ctx context.Context, userID int64) (*domain.User, error) {
	// a flight that finished between the miss and DoChan already stored it
	if user, ok := c.Get(userID); ok {
		return user, nil
	}

	if user := c.fromStore(ctx, userID); user != nil {
		return c.insert(userID, user), nil
	}

	user, err := c.fetcher.GetUser(ctx, userID)
	if err != nil {
		c.logger.Error().Err(err).Int64("user_id", userID).Msg("failed to fetch user")
		return nil, fmt.Errorf("failed to fetch user %d: %w", userID, err)
	}
	c.logger.Debug().Int64("user_id", userID).Str("username", user.Username).Msg("user fetched")

	if c.store != nil {
		storeCtx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
		defer cancel()
		if err := c.store.Upsert(storeCtx, user); err != nil {
			c.logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to persist user")
		}
	}

	return c.insert(userID, user), nil
}

func (c *UserCache) fromStore(ctx context.Context, userID int64) *domain.User {
	if c.store == nil {
		return nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	user, err := c.store.Get(storeCtx, userID)
	if err != nil {
		c.logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to read stored user, fetching instead")
		return nil
	}
	if user != nil {
		c.logger.Debug().Int64("user_id", userID).Msg("user loaded from store")
	}
	return user
}

func (c *UserCache) insert(userID int64, user *domain.User) *domain.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.users[userID]; ok {
		return existing
	}
	c.users[userID] = user
	return user
}
