// Package quota enforces per-credential write limits. The check runs inside
// the same transaction as the solution insert, behind a transaction-scoped
// advisory lock keyed from the credential id, so two concurrent writers under
// one credential cannot both pass a nearly-exhausted limit.
package quota

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/context8/context8-docker/internal/apperr"
	"github.com/context8/context8-docker/internal/auth"
	"github.com/context8/context8-docker/internal/telemetry"
)

// counter abstracts the ledger count the limiter needs.
type counter interface {
	CountByKeySinceTx(ctx context.Context, tx *sqlx.Tx, apiKeyID string, since time.Time) (int, error)
}

// Limiter checks daily and monthly solution-count limits.
type Limiter struct {
	solutions counter
}

// NewLimiter creates a Limiter.
func NewLimiter(solutions counter) *Limiter {
	return &Limiter{solutions: solutions}
}

// LockID maps a credential id onto the advisory-lock keyspace. The mapping
// only needs to be deterministic and well spread; collisions between distinct
// credentials merely serialize two writers that did not need to be.
func LockID(apiKeyID string) int64 {
	sum := sha256.Sum256([]byte(apiKeyID))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// dayStart returns midnight UTC of the instant's day.
func dayStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// monthStart returns the first instant of the instant's UTC month.
func monthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Check acquires the credential's advisory lock inside tx and verifies both
// windows. A nil limit means unlimited; with neither limit set the lock is
// not even taken. The lock is released automatically when tx ends.
func (l *Limiter) Check(ctx context.Context, tx *sqlx.Tx, scope auth.KeyScope, now time.Time) error {
	if scope.DailyLimit == nil && scope.MonthlyLimit == nil {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, LockID(scope.ID)); err != nil {
		return apperr.Wrap(apperr.Internal, err, "acquire quota lock")
	}

	if scope.DailyLimit != nil {
		count, err := l.solutions.CountByKeySinceTx(ctx, tx, scope.ID, dayStart(now))
		if err != nil {
			return apperr.Wrap(apperr.Internal, err, "count daily writes")
		}
		if count >= *scope.DailyLimit {
			telemetry.QuotaRejectionsTotal.WithLabelValues("daily").Inc()
			return apperr.New(apperr.QuotaExceeded,
				"daily limit of %d solutions reached for this api key", *scope.DailyLimit)
		}
	}
	if scope.MonthlyLimit != nil {
		count, err := l.solutions.CountByKeySinceTx(ctx, tx, scope.ID, monthStart(now))
		if err != nil {
			return apperr.Wrap(apperr.Internal, err, "count monthly writes")
		}
		if count >= *scope.MonthlyLimit {
			telemetry.QuotaRejectionsTotal.WithLabelValues("monthly").Inc()
			return apperr.New(apperr.QuotaExceeded,
				"monthly limit of %d solutions reached for this api key", *scope.MonthlyLimit)
		}
	}
	return nil
}
