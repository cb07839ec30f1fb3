package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/clock"
	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/observability"
	"github.com/sandeepkv93/device-presence-service/internal/repository"
)

const DefaultLivenessThreshold = 5 * time.Minute

// Presence is a device together with the status derived for it at CheckedAt.
type Presence struct {
	Device    domain.Device         `json:"device"`
	Status    domain.PresenceStatus `json:"status"`
	CheckedAt time.Time             `json:"checked_at"`
}

type HeartbeatInput struct {
	// ObservedAt is when the agent took the reading. Zero means now.
	ObservedAt time.Time
}

type PresenceTracker struct {
	devices    repository.DeviceRepository
	unknown    UnknownDeviceCache
	unknownTTL time.Duration
	clock      clock.Clock
	threshold  time.Duration
	logger     *slog.Logger
}

func NewPresenceTracker(
	devices repository.DeviceRepository,
	unknown UnknownDeviceCache,
	unknownTTL time.Duration,
	clk clock.Clock,
	threshold time.Duration,
	logger *slog.Logger,
) *PresenceTracker {
	if unknown == nil {
		unknown = NewNoopUnknownDeviceCache()
	}
	if threshold <= 0 {
		threshold = DefaultLivenessThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PresenceTracker{
		devices:    devices,
		unknown:    unknown,
		unknownTTL: unknownTTL,
		clock:      clk,
		threshold:  threshold,
		logger:     logger,
	}
}

func (t *PresenceTracker) Threshold() time.Duration { return t.threshold }

// StatusOf derives presence without touching storage.
func (t *PresenceTracker) StatusOf(d domain.Device, now time.Time) domain.PresenceStatus {
	return d.StatusAt(now, t.threshold)
}

func (t *PresenceTracker) presence(d *domain.Device) *Presence {
	now := t.clock.Now()
	return &Presence{Device: *d, Status: t.StatusOf(*d, now), CheckedAt: now}
}

// Register upserts the device identified by the fingerprint of info and counts
// the registration as a heartbeat.
func (t *PresenceTracker) Register(ctx context.Context, clientID uint, info domain.SystemInfo, relink bool) (*Presence, bool, error) {
	d, created, err := t.devices.Upsert(ctx, clientID, info, t.clock.Now(), relink)
	if err != nil {
		observability.RecordDeviceRegistration(ctx, domain.ReasonOf(err))
		return nil, false, err
	}
	if err := t.unknown.Forget(ctx, d.ID); err != nil {
		t.logger.WarnContext(ctx, "unknown device cache forget failed", "device_id", d.ID, "error", err)
	}
	if created {
		observability.RecordDeviceRegistration(ctx, "created")
	} else {
		observability.RecordDeviceRegistration(ctx, "updated")
	}
	return t.presence(d), created, nil
}

// Lookup returns the device or ErrUnknownDevice, consulting the negative cache first.
func (t *PresenceTracker) Lookup(ctx context.Context, deviceID uint) (*domain.Device, error) {
	if t.knownUnknown(ctx, deviceID) {
		return nil, domain.ErrUnknownDevice
	}
	d, err := t.devices.FindByID(ctx, deviceID)
	if errors.Is(err, domain.ErrUnknownDevice) {
		t.markUnknown(ctx, deviceID)
	}
	return d, err
}

func (t *PresenceTracker) Get(ctx context.Context, deviceID uint) (*Presence, error) {
	d, err := t.Lookup(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return t.presence(d), nil
}

// Heartbeat moves last_heartbeat_at forward to the observed time. Readings
// older than the stored one change nothing and still succeed.
func (t *PresenceTracker) Heartbeat(ctx context.Context, deviceID uint, in HeartbeatInput) (*Presence, error) {
	if t.knownUnknown(ctx, deviceID) {
		observability.RecordHeartbeat(ctx, "unknown")
		return nil, domain.ErrUnknownDevice
	}
	now := t.clock.Now()
	at := in.ObservedAt.UTC()
	if in.ObservedAt.IsZero() || at.After(now) {
		at = now
	}
	d, applied, err := t.devices.Heartbeat(ctx, deviceID, at)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownDevice) {
			t.markUnknown(ctx, deviceID)
			observability.RecordHeartbeat(ctx, "unknown")
		} else {
			observability.RecordHeartbeat(ctx, "error")
		}
		return nil, err
	}
	if applied {
		observability.RecordHeartbeat(ctx, "applied")
	} else {
		observability.RecordHeartbeat(ctx, "stale")
	}
	return t.presence(d), nil
}

// ForceOffline fences every heartbeat received up to now. The next newer
// heartbeat brings the device back online.
func (t *PresenceTracker) ForceOffline(ctx context.Context, deviceID uint) (*Presence, error) {
	d, err := t.devices.MarkOffline(ctx, deviceID, t.clock.Now())
	if err != nil {
		observability.RecordForceOffline(ctx, domain.ReasonOf(err))
		return nil, err
	}
	observability.RecordForceOffline(ctx, "success")
	return t.presence(d), nil
}

func (t *PresenceTracker) List(ctx context.Context, f repository.DeviceFilter) ([]Presence, error) {
	devices, err := t.devices.List(ctx, f)
	if err != nil {
		return nil, err
	}
	now := t.clock.Now()
	out := make([]Presence, 0, len(devices))
	for _, d := range devices {
		out = append(out, Presence{Device: d, Status: t.StatusOf(d, now), CheckedAt: now})
	}
	return out, nil
}

func (t *PresenceTracker) ListForClient(ctx context.Context, clientID uint) ([]Presence, error) {
	return t.List(ctx, repository.DeviceFilter{ClientID: &clientID})
}

func (t *PresenceTracker) Counts(ctx context.Context) (repository.PresenceCounts, error) {
	return t.devices.PresenceCounts(ctx, t.clock.Now().Add(-t.threshold))
}

// ResetUnknown drops every negative entry, e.g. after a client is reactivated.
func (t *PresenceTracker) ResetUnknown(ctx context.Context) {
	if err := t.unknown.Reset(ctx); err != nil {
		t.logger.WarnContext(ctx, "unknown device cache reset failed", "error", err)
	}
}

func (t *PresenceTracker) knownUnknown(ctx context.Context, deviceID uint) bool {
	hit, err := t.unknown.IsUnknown(ctx, deviceID)
	if err != nil {
		observability.RecordCacheLookup(ctx, "unknown_device", "error")
		return false
	}
	if hit {
		observability.RecordCacheLookup(ctx, "unknown_device", "hit")
	} else {
		observability.RecordCacheLookup(ctx, "unknown_device", "miss")
	}
	return hit
}

func (t *PresenceTracker) markUnknown(ctx context.Context, deviceID uint) {
	if err := t.unknown.MarkUnknown(ctx, deviceID, t.unknownTTL); err != nil {
		t.logger.WarnContext(ctx, "unknown device cache mark failed", "device_id", deviceID, "error", err)
	}
}
