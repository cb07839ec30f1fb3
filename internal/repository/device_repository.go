package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeviceFilter struct {
	ClientID *uint
}

type PresenceCounts struct {
	Total  int64 `json:"total"`
	Online int64 `json:"online"`
}

type DeviceRepository interface {
	// Upsert creates or re-links the device matching the fingerprint of info.
	// relink allows taking over a device owned by another client.
	Upsert(ctx context.Context, clientID uint, info domain.SystemInfo, at time.Time, relink bool) (*domain.Device, bool, error)
	// Heartbeat advances last_heartbeat_at to at only when it is newer. The
	// returned bool reports whether the row changed.
	Heartbeat(ctx context.Context, id uint, at time.Time) (*domain.Device, bool, error)
	MarkOffline(ctx context.Context, id uint, at time.Time) (*domain.Device, error)
	FindByID(ctx context.Context, id uint) (*domain.Device, error)
	List(ctx context.Context, f DeviceFilter) ([]domain.Device, error)
	PresenceCounts(ctx context.Context, onlineSince time.Time) (PresenceCounts, error)
}

type GormDeviceRepo struct{ store }

func NewDeviceRepository(db *gorm.DB, timeout time.Duration) DeviceRepository {
	return &GormDeviceRepo{store: newStore(db, timeout)}
}

func metadataColumns(info domain.SystemInfo) map[string]any {
	return map[string]any{
		"name":         info.Name,
		"kind":         info.Kind,
		"hostname":     strings.TrimSpace(info.Hostname),
		"os":           info.OS,
		"os_version":   info.OSVersion,
		"local_ip":     info.LocalIP,
		"public_ip":    info.PublicIP,
		"mac_address":  info.MACAddress,
		"processor":    info.Processor,
		"memory_total": info.MemoryTotal,
		"disk_total":   info.DiskTotal,
		"is_virtual":   info.IsVirtual,
		"virtual_type": info.VirtualType,
	}
}

func (r *GormDeviceRepo) Upsert(ctx context.Context, clientID uint, info domain.SystemInfo, at time.Time, relink bool) (d *domain.Device, created bool, err error) {
	defer func() { observe(ctx, "device", "upsert", err) }()
	fp := info.Fingerprint()
	if fp == "" {
		return nil, false, domain.Validation(domain.ReasonInvalidInput, "mac_address or hostname is required")
	}
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	// A concurrent first registration of the same fingerprint loses the insert
	// race on the unique index; the second attempt then takes the update path.
	for attempt := 0; attempt < 2; attempt++ {
		d, created, err = r.upsertOnce(db, clientID, fp, info, at, relink)
		if !errors.Is(err, gorm.ErrDuplicatedKey) && !isUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return nil, false, classify(opCtx, err)
	}
	return d, created, nil
}

func (r *GormDeviceRepo) upsertOnce(db *gorm.DB, clientID uint, fp string, info domain.SystemInfo, at time.Time, relink bool) (*domain.Device, bool, error) {
	var out domain.Device
	created := false
	err := db.Transaction(func(tx *gorm.DB) error {
		existing, err := lockByFingerprint(tx, fp)
		if err != nil {
			return err
		}
		if existing == nil && strings.HasPrefix(fp, "mac:") && strings.TrimSpace(info.Hostname) != "" {
			// Devices first seen without a MAC are keyed by hostname; adopt them.
			hostFP := domain.SystemInfo{Hostname: info.Hostname}.Fingerprint()
			existing, err = lockByFingerprint(tx, hostFP)
			if err != nil {
				return err
			}
			if existing != nil && existing.ClientID != clientID {
				existing = nil
			}
		}

		if existing == nil {
			out = domain.Device{
				ClientID:        clientID,
				Fingerprint:     fp,
				Name:            info.Name,
				Kind:            info.Kind,
				Hostname:        strings.TrimSpace(info.Hostname),
				OS:              info.OS,
				OSVersion:       info.OSVersion,
				LocalIP:         info.LocalIP,
				PublicIP:        info.PublicIP,
				MACAddress:      info.MACAddress,
				Processor:       info.Processor,
				MemoryTotal:     info.MemoryTotal,
				DiskTotal:       info.DiskTotal,
				IsVirtual:       info.IsVirtual,
				VirtualType:     info.VirtualType,
				LastHeartbeatAt: at,
				RegisteredAt:    at,
			}
			created = true
			return tx.Create(&out).Error
		}

		if existing.ClientID != clientID && !relink {
			return domain.ErrFingerprintConflict
		}
		cols := metadataColumns(info)
		cols["client_id"] = clientID
		cols["fingerprint"] = fp
		cols["offline_fenced_at"] = nil
		cols["updated_at"] = at
		if at.After(existing.LastHeartbeatAt) {
			cols["last_heartbeat_at"] = at
		}
		if err := tx.Model(&domain.Device{}).Where("id = ?", existing.ID).Updates(cols).Error; err != nil {
			return err
		}
		return tx.First(&out, existing.ID).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &out, created, nil
}

func lockByFingerprint(tx *gorm.DB, fp string) (*domain.Device, error) {
	var d domain.Device
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("fingerprint = ?", fp).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate")
}

func (r *GormDeviceRepo) Heartbeat(ctx context.Context, id uint, at time.Time) (d *domain.Device, applied bool, err error) {
	defer func() { observe(ctx, "device", "heartbeat", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	activeOwners := db.Model(&domain.Client{}).Select("id").Where("active = ?", true)
	res := db.Model(&domain.Device{}).
		Where("id = ? AND last_heartbeat_at < ?", id, at).
		Where("client_id IN (?)", activeOwners).
		Updates(map[string]any{"last_heartbeat_at": at, "updated_at": at})
	if res.Error != nil {
		return nil, false, classify(opCtx, res.Error)
	}

	var out domain.Device
	err = db.Joins("JOIN clients ON clients.id = devices.client_id AND clients.active = ?", true).
		Where("devices.id = ?", id).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, domain.ErrUnknownDevice
	}
	if err != nil {
		return nil, false, classify(opCtx, err)
	}
	return &out, res.RowsAffected > 0, nil
}

func (r *GormDeviceRepo) MarkOffline(ctx context.Context, id uint, at time.Time) (d *domain.Device, err error) {
	defer func() { observe(ctx, "device", "mark_offline", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	res := db.Model(&domain.Device{}).Where("id = ?", id).
		Updates(map[string]any{"offline_fenced_at": at, "updated_at": at})
	if res.Error != nil {
		return nil, classify(opCtx, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrUnknownDevice
	}
	var out domain.Device
	if err := db.First(&out, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUnknownDevice
		}
		return nil, classify(opCtx, err)
	}
	return &out, nil
}

func (r *GormDeviceRepo) FindByID(ctx context.Context, id uint) (d *domain.Device, err error) {
	defer func() { observe(ctx, "device", "find_by_id", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	var out domain.Device
	if err := db.First(&out, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUnknownDevice
		}
		return nil, classify(opCtx, err)
	}
	return &out, nil
}

func (r *GormDeviceRepo) List(ctx context.Context, f DeviceFilter) (out []domain.Device, err error) {
	defer func() { observe(ctx, "device", "list", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	q := db.Model(&domain.Device{})
	if f.ClientID != nil {
		q = q.Where("client_id = ?", *f.ClientID)
	}
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, classify(opCtx, err)
	}
	return out, nil
}

func (r *GormDeviceRepo) PresenceCounts(ctx context.Context, onlineSince time.Time) (out PresenceCounts, err error) {
	defer func() { observe(ctx, "device", "presence_counts", err) }()
	db, opCtx, cancel := r.conn(ctx)
	defer cancel()

	if err := db.Model(&domain.Device{}).Count(&out.Total).Error; err != nil {
		return PresenceCounts{}, classify(opCtx, err)
	}
	err = db.Model(&domain.Device{}).
		Where("last_heartbeat_at >= ?", onlineSince).
		Where("offline_fenced_at IS NULL OR last_heartbeat_at > offline_fenced_at").
		Count(&out.Online).Error
	if err != nil {
		return PresenceCounts{}, classify(opCtx, err)
	}
	return out, nil
}
