package db

import (
	"context"
	"log/slog"
)

// Store bundles the repositories over one connection so a single value can
// back the cache, the resolver and the poller.
type Store struct {
	*CacheRepository
	*ForecastRepository
	*RaceRepository

	pinger Pinger
}

// NewStore creates a Store. If db also implements Pinger (a *pgxpool.Pool
// does), Ping checks it; otherwise Ping always succeeds.
func NewStore(db DBTX, logger *slog.Logger) *Store {
	s := &Store{
		CacheRepository:    NewCacheRepository(db),
		ForecastRepository: NewForecastRepository(db, logger),
		RaceRepository:     NewRaceRepository(db),
	}
	if p, ok := db.(Pinger); ok {
		s.pinger = p
	}
	return s
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	return s.pinger.Ping(ctx)
}
