package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/domain"

	"gorm.io/gorm"
)

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindByHash(ctx context.Context, hash string) (*domain.Session, error)
	FindByID(ctx context.Context, id uint) (*domain.Session, error)
	ListActiveByClientID(ctx context.Context, clientID uint, now time.Time) ([]domain.Session, error)
	// RevokeByHash reports whether this call performed the revocation. Expired
	// sessions are left untouched.
	RevokeByHash(ctx context.Context, hash, reason string, at time.Time) (bool, error)
	RevokeByID(ctx context.Context, id uint, reason string, at time.Time) (*domain.Session, bool, error)
	RevokeByClientID(ctx context.Context, clientID uint, reason string, at time.Time) (int64, error)
	// PurgeExpired deletes never-revoked sessions that expired at or before cutoff.
	PurgeExpired(ctx context.Context, cutoff time.Time, batch int) (int64, error)
	CountActive(ctx context.Context, now time.Time) (int64, error)
}

type GormSessionRepo struct{ store }

func NewSessionRepository(db *gorm.DB, timeout time.Duration) SessionRepository {
	return &GormSessionRepo{store: newStore(db, timeout)}
}

func (r *GormSessionRepo) Create(ctx context.Context, s *domain.Session) (err error) {
	defer func() { observe(ctx, "session", "create", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()
	return classify(opCtx, db.Create(s).Error)
}

func (r *GormSessionRepo) FindByHash(ctx context.Context, hash string) (s *domain.Session, err error) {
	defer func() { observe(ctx, "session", "find_by_hash", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	var out domain.Session
	if err := db.Where("token_hash = ?", hash).First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, classify(opCtx, err)
	}
	return &out, nil
}

func (r *GormSessionRepo) FindByID(ctx context.Context, id uint) (s *domain.Session, err error) {
	defer func() { observe(ctx, "session", "find_by_id", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	var out domain.Session
	if err := db.First(&out, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, classify(opCtx, err)
	}
	return &out, nil
}

func (r *GormSessionRepo) ListActiveByClientID(ctx context.Context, clientID uint, now time.Time) (out []domain.Session, err error) {
	defer func() { observe(ctx, "session", "list_active_by_client_id", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	err = db.Where("client_id = ? AND revoked_at IS NULL AND expires_at > ?", clientID, now).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, classify(opCtx, err)
	}
	return out, nil
}

func (r *GormSessionRepo) RevokeByHash(ctx context.Context, hash, reason string, at time.Time) (revoked bool, err error) {
	defer func() { observe(ctx, "session", "revoke_by_hash", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	res := db.Model(&domain.Session{}).
		Where("token_hash = ? AND revoked_at IS NULL AND expires_at > ?", hash, at).
		Updates(map[string]any{"revoked_at": at, "revoked_reason": reason})
	if res.Error != nil {
		return false, classify(opCtx, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepo) RevokeByID(ctx context.Context, id uint, reason string, at time.Time) (s *domain.Session, revoked bool, err error) {
	defer func() { observe(ctx, "session", "revoke_by_id", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	res := db.Model(&domain.Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]any{"revoked_at": at, "revoked_reason": reason})
	if res.Error != nil {
		return nil, false, classify(opCtx, res.Error)
	}
	var out domain.Session
	if err := db.First(&out, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, domain.ErrSessionNotFound
		}
		return nil, false, classify(opCtx, err)
	}
	return &out, res.RowsAffected > 0, nil
}

func (r *GormSessionRepo) RevokeByClientID(ctx context.Context, clientID uint, reason string, at time.Time) (n int64, err error) {
	defer func() { observe(ctx, "session", "revoke_by_client_id", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	res := db.Model(&domain.Session{}).
		Where("client_id = ? AND revoked_at IS NULL", clientID).
		Updates(map[string]any{"revoked_at": at, "revoked_reason": reason})
	if res.Error != nil {
		return res.RowsAffected, classify(opCtx, res.Error)
	}
	return res.RowsAffected, nil
}

func (r *GormSessionRepo) PurgeExpired(ctx context.Context, cutoff time.Time, batch int) (n int64, err error) {
	defer func() { observe(ctx, "session", "purge_expired", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	if batch <= 0 {
		batch = 500
	}
	var ids []uint
	err = db.Model(&domain.Session{}).
		Where("expires_at <= ? AND revoked_at IS NULL", cutoff).
		Order("id ASC").
		Limit(batch).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, classify(opCtx, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.Where("id IN ? AND revoked_at IS NULL", ids).Delete(&domain.Session{})
	if res.Error != nil {
		return res.RowsAffected, classify(opCtx, res.Error)
	}
	return res.RowsAffected, nil
}

func (r *GormSessionRepo) CountActive(ctx context.Context, now time.Time) (n int64, err error) {
	defer func() { observe(ctx, "session", "count_active", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	err = db.Model(&domain.Session{}).Where("revoked_at IS NULL AND expires_at > ?", now).Count(&n).Error
	if err != nil {
		return 0, classify(opCtx, err)
	}
	return n, nil
}
