package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultAuditLimit = 100
	MaxAuditLimit     = 500
)

type AuditFilter struct {
	Actor         string
	Action        string
	From          *time.Time
	To            *time.Time
	AfterSequence uint64
	Limit         int
}

func normalizeAuditLimit(limit int) int {
	if limit <= 0 {
		return DefaultAuditLimit
	}
	if limit > MaxAuditLimit {
		return MaxAuditLimit
	}
	return limit
}

type AuditRepository interface {
	// Append assigns the next sequence number and chain hash to e and stores it.
	Append(ctx context.Context, e *domain.AuditLogEntry) error
	// List returns entries in ascending sequence order.
	List(ctx context.Context, f AuditFilter) ([]domain.AuditLogEntry, error)
	Head(ctx context.Context) (domain.AuditHead, error)
	Count(ctx context.Context) (int64, error)
}

type GormAuditRepo struct {
	store
	mu sync.Mutex
}

func NewAuditRepository(db *gorm.DB, timeout time.Duration) AuditRepository {
	return &GormAuditRepo{store: newStore(db, timeout)}
}

func (r *GormAuditRepo) Append(ctx context.Context, e *domain.AuditLogEntry) (err error) {
	defer func() { observe(ctx, "audit", "append", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	// The head row lock orders appends across replicas. The mutex only keeps
	// this process from queueing writers on sqlite, which has no row locks and
	// answers contention with busy errors.
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := *e
	err = db.Transaction(func(tx *gorm.DB) error {
		var head domain.AuditHead
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", 1).First(&head).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			head = domain.AuditHead{ID: 1, LastSequence: 0, LastHash: domain.GenesisHash}
			err = tx.Create(&head).Error
		}
		if err != nil {
			return err
		}

		entry.Sequence = head.LastSequence + 1
		entry.PrevHash = head.LastHash
		entry.RecordedAt = entry.RecordedAt.UTC().Truncate(time.Microsecond)
		entry.Hash = entry.ComputeHash()
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		res := tx.Model(&domain.AuditHead{}).
			Where("id = ? AND last_sequence = ?", 1, head.LastSequence).
			Updates(map[string]any{"last_sequence": entry.Sequence, "last_hash": entry.Hash})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errors.New("audit head moved during append")
		}
		return nil
	})
	if err != nil {
		return classify(opCtx, err)
	}
	*e = entry
	return nil
}

func (r *GormAuditRepo) List(ctx context.Context, f AuditFilter) (out []domain.AuditLogEntry, err error) {
	defer func() { observe(ctx, "audit", "list", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	q := db.Model(&domain.AuditLogEntry{})
	if f.Actor != "" {
		q = q.Where("actor = ?", f.Actor)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.From != nil {
		q = q.Where("recorded_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("recorded_at <= ?", f.To.UTC())
	}
	if f.AfterSequence > 0 {
		q = q.Where("sequence > ?", f.AfterSequence)
	}
	if err := q.Order("sequence ASC").Limit(normalizeAuditLimit(f.Limit)).Find(&out).Error; err != nil {
		return nil, classify(opCtx, err)
	}
	return out, nil
}

func (r *GormAuditRepo) Head(ctx context.Context) (h domain.AuditHead, err error) {
	defer func() { observe(ctx, "audit", "head", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	err = db.Where("id = ?", 1).First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.AuditHead{ID: 1, LastHash: domain.GenesisHash}, nil
	}
	if err != nil {
		return domain.AuditHead{}, classify(opCtx, err)
	}
	return h, nil
}

func (r *GormAuditRepo) Count(ctx context.Context) (n int64, err error) {
	defer func() { observe(ctx, "audit", "count", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	if err := db.Model(&domain.AuditLogEntry{}).Count(&n).Error; err != nil {
		return 0, classify(opCtx, err)
	}
	return n, nil
}
