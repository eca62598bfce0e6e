package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/open-builders/knock-backend/internal/domain/contest"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"

	defaultMaxAttempts = 3
)

// Store runs contest transactions against PostgreSQL.
type Store struct {
	db          *sql.DB
	maxAttempts int
	log         zerolog.Logger
}

func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{db: db, maxAttempts: defaultMaxAttempts, log: log}
}

// InTx runs fn in a READ COMMITTED transaction. Serialization failures and
// deadlocks restart the whole unit of work up to three times.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx contest.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("transaction conflict, retrying")
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx contest.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()
	if err = fn(ctx, &Tx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// IsRetryable reports whether err is a PostgreSQL serialization failure or
// deadlock.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == sqlStateSerializationFailure || pqErr.Code == sqlStateDeadlockDetected
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == sqlStateUniqueViolation
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ contest.Store = (*Store)(nil)
