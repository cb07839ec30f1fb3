package repository

import (
	"context"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/domain"

	"gorm.io/gorm"
)

type ConnectionFilter struct {
	DeviceID *uint
	ClientID *uint
	From     *time.Time
	To       *time.Time
}

// ConnectionRepository is insert and read only; connection history is never rewritten.
type ConnectionRepository interface {
	CreateBatch(ctx context.Context, rows []domain.Connection) error
	List(ctx context.Context, f ConnectionFilter, req PageRequest) (Page[domain.Connection], error)
	Count(ctx context.Context) (int64, error)
}

type GormConnectionRepo struct{ store }

func NewConnectionRepository(db *gorm.DB, timeout time.Duration) ConnectionRepository {
	return &GormConnectionRepo{store: newStore(db, timeout)}
}

func (r *GormConnectionRepo) CreateBatch(ctx context.Context, rows []domain.Connection) (err error) {
	defer func() { observe(ctx, "connection", "create_batch", err) }()
	if len(rows) == 0 {
		return nil
	}
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	err = db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&rows, 100).Error
	})
	return classify(opCtx, err)
}

func (r *GormConnectionRepo) List(ctx context.Context, f ConnectionFilter, req PageRequest) (p Page[domain.Connection], err error) {
	defer func() { observe(ctx, "connection", "list", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	req = normalizePageRequest(req)
	q := db.Model(&domain.Connection{})
	if f.DeviceID != nil {
		q = q.Where("device_id = ?", *f.DeviceID)
	}
	if f.ClientID != nil {
		q = q.Where("client_id = ?", *f.ClientID)
	}
	if f.From != nil {
		q = q.Where("recorded_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("recorded_at <= ?", *f.To)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return Page[domain.Connection]{}, classify(opCtx, err)
	}
	var items []domain.Connection
	if err := q.Order("recorded_at DESC, id DESC").Offset(req.offset()).Limit(req.PageSize).Find(&items).Error; err != nil {
		return Page[domain.Connection]{}, classify(opCtx, err)
	}
	return newPage(items, req, total), nil
}

func (r *GormConnectionRepo) Count(ctx context.Context) (n int64, err error) {
	defer func() { observe(ctx, "connection", "count", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	if err := db.Model(&domain.Connection{}).Count(&n).Error; err != nil {
		return 0, classify(opCtx, err)
	}
	return n, nil
}
