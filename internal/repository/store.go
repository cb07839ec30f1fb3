package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/observability"

	"gorm.io/gorm"
)

// DefaultOpTimeout bounds a single repository call when the caller passes zero.
const DefaultOpTimeout = 3 * time.Second

// store carries the handle and the per-call deadline shared by every Gorm*Repo.
type store struct {
	db      *gorm.DB
	timeout time.Duration
}

func newStore(db *gorm.DB, timeout time.Duration) store {
	if timeout <= 0 {
		timeout = DefaultOpTimeout
	}
	return store{db: db, timeout: timeout}
}

// conn returns a session bound to a context that expires after the store timeout.
func (s store) conn(ctx context.Context) (*gorm.DB, context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(opCtx), opCtx, cancel
}

// classify maps driver failures onto the storage taxonomy. Domain errors pass
// through untouched; nothing here retries.
func classify(opCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return domain.StorageTimeout(err)
	}
	return domain.StorageUnavailable(err)
}

func observe(ctx context.Context, repo, op string, err error) {
	outcome := "success"
	switch {
	case err == nil:
	case domain.KindOf(err) == domain.KindNotFound:
		outcome = "not_found"
	case domain.KindOf(err) == domain.KindConflict:
		outcome = "conflict"
	default:
		outcome = "error"
	}
	observability.RecordRepositoryOperation(ctx, repo, op, outcome)
}
