package repository

import (
	"context"
	"slices"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/domain"

	"gorm.io/gorm"
)

type ChatRepository interface {
	Create(ctx context.Context, m *domain.ChatMessage) error
	// ListRecent returns the newest limit messages of room, oldest first.
	ListRecent(ctx context.Context, room string, limit int) ([]domain.ChatMessage, error)
	Count(ctx context.Context) (int64, error)
}

type GormChatRepo struct{ store }

func NewChatRepository(db *gorm.DB, timeout time.Duration) ChatRepository {
	return &GormChatRepo{store: newStore(db, timeout)}
}

func (r *GormChatRepo) Create(ctx context.Context, m *domain.ChatMessage) (err error) {
	defer func() { observe(ctx, "chat", "create", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()
	return classify(opCtx, db.Create(m).Error)
}

func (r *GormChatRepo) ListRecent(ctx context.Context, room string, limit int) (out []domain.ChatMessage, err error) {
	defer func() { observe(ctx, "chat", "list_recent", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	if err := db.Where("room = ?", room).Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, classify(opCtx, err)
	}
	slices.Reverse(out)
	return out, nil
}

func (r *GormChatRepo) Count(ctx context.Context) (n int64, err error) {
	defer func() { observe(ctx, "chat", "count", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	if err := db.Model(&domain.ChatMessage{}).Count(&n).Error; err != nil {
		return 0, classify(opCtx, err)
	}
	return n, nil
}
