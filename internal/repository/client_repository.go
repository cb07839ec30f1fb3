package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/domain"

	"gorm.io/gorm"
)

type ClientUpdate struct {
	Name         *string
	Email        *string
	Phone        *string
	Company      *string
	Role         *domain.Role
	PasswordHash *string
	Active       *bool
}

func (u ClientUpdate) columns() map[string]any {
	cols := map[string]any{}
	if u.Name != nil {
		cols["name"] = *u.Name
	}
	if u.Email != nil {
		cols["email"] = normalizeEmail(*u.Email)
	}
	if u.Phone != nil {
		cols["phone"] = *u.Phone
	}
	if u.Company != nil {
		cols["company"] = *u.Company
	}
	if u.Role != nil {
		cols["role"] = *u.Role
	}
	if u.PasswordHash != nil {
		cols["password_hash"] = *u.PasswordHash
	}
	if u.Active != nil {
		cols["active"] = *u.Active
	}
	return cols
}

type ClientCounts struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
}

type ClientRepository interface {
	Create(ctx context.Context, c *domain.Client) error
	FindByID(ctx context.Context, id uint) (*domain.Client, error)
	FindByEmail(ctx context.Context, email string) (*domain.Client, error)
	Update(ctx context.Context, id uint, upd ClientUpdate) (*domain.Client, error)
	TouchLastAccess(ctx context.Context, id uint, at time.Time) error
	List(ctx context.Context, req PageRequest) (Page[domain.Client], error)
	Counts(ctx context.Context) (ClientCounts, error)
}

type GormClientRepo struct{ store }

func NewClientRepository(db *gorm.DB, timeout time.Duration) ClientRepository {
	return &GormClientRepo{store: newStore(db, timeout)}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *GormClientRepo) Create(ctx context.Context, c *domain.Client) (err error) {
	defer func() { observe(ctx, "client", "create", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	c.Email = normalizeEmail(c.Email)
	err = db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&domain.Client{}).Where("email = ?", c.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrEmailTaken
		}
		return tx.Create(c).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrEmailTaken
	}
	return classify(opCtx, err)
}

func (r *GormClientRepo) FindByID(ctx context.Context, id uint) (c *domain.Client, err error) {
	defer func() { observe(ctx, "client", "find_by_id", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	var out domain.Client
	if err := db.First(&out, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrClientNotFound
		}
		return nil, classify(opCtx, err)
	}
	return &out, nil
}

func (r *GormClientRepo) FindByEmail(ctx context.Context, email string) (c *domain.Client, err error) {
	defer func() { observe(ctx, "client", "find_by_email", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	var out domain.Client
	if err := db.Where("email = ?", normalizeEmail(email)).First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrClientNotFound
		}
		return nil, classify(opCtx, err)
	}
	return &out, nil
}

func (r *GormClientRepo) Update(ctx context.Context, id uint, upd ClientUpdate) (c *domain.Client, err error) {
	defer func() { observe(ctx, "client", "update", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	var out domain.Client
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&out, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrClientNotFound
			}
			return err
		}
		cols := upd.columns()
		if email, ok := cols["email"].(string); ok && email != out.Email {
			var n int64
			if err := tx.Model(&domain.Client{}).Where("email = ? AND id <> ?", email, id).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return domain.ErrEmailTaken
			}
		}
		if len(cols) == 0 {
			return nil
		}
		if err := tx.Model(&domain.Client{}).Where("id = ?", id).Updates(cols).Error; err != nil {
			return err
		}
		return tx.First(&out, id).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, domain.ErrEmailTaken
	}
	if err != nil {
		return nil, classify(opCtx, err)
	}
	return &out, nil
}

func (r *GormClientRepo) TouchLastAccess(ctx context.Context, id uint, at time.Time) (err error) {
	defer func() { observe(ctx, "client", "touch_last_access", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	err = db.Model(&domain.Client{}).Where("id = ?", id).UpdateColumn("last_access_at", at).Error
	return classify(opCtx, err)
}

func (r *GormClientRepo) List(ctx context.Context, req PageRequest) (p Page[domain.Client], err error) {
	defer func() { observe(ctx, "client", "list", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	req = normalizePageRequest(req)
	var total int64
	if err := db.Model(&domain.Client{}).Count(&total).Error; err != nil {
		return Page[domain.Client]{}, classify(opCtx, err)
	}
	var items []domain.Client
	if err := db.Order("id ASC").Offset(req.offset()).Limit(req.PageSize).Find(&items).Error; err != nil {
		return Page[domain.Client]{}, classify(opCtx, err)
	}
	return newPage(items, req, total), nil
}

func (r *GormClientRepo) Counts(ctx context.Context) (out ClientCounts, err error) {
	defer func() { observe(ctx, "client", "counts", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	if err := db.Model(&domain.Client{}).Count(&out.Total).Error; err != nil {
		return ClientCounts{}, classify(opCtx, err)
	}
	if err := db.Model(&domain.Client{}).Where("active = ?", true).Count(&out.Active).Error; err != nil {
		return ClientCounts{}, classify(opCtx, err)
	}
	return out, nil
}
