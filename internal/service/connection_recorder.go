package service

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/clock"
	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/repository"
)

const MaxConnectionBatch = 1000

var knownProtocols = map[string]bool{"tcp": true, "tcp6": true, "udp": true, "udp6": true}

type ConnectionInput struct {
	LocalIP       string
	LocalPort     int
	RemoteIP      string
	RemotePort    int
	Protocol      string
	State         string
	Process       string
	PID           int
	BytesSent     int64
	BytesReceived int64
	// RecordedAt defaults to now; future values are clamped.
	RecordedAt time.Time
}

type ConnectionRecorder struct {
	connections repository.ConnectionRepository
	devices     repository.DeviceRepository
	clock       clock.Clock
}

func NewConnectionRecorder(connections repository.ConnectionRepository, devices repository.DeviceRepository, clk clock.Clock) *ConnectionRecorder {
	return &ConnectionRecorder{connections: connections, devices: devices, clock: clk}
}

func (r *ConnectionRecorder) Record(ctx context.Context, deviceID uint, sessionID *uint, in ConnectionInput) (uint, error) {
	ids, err := r.RecordBatch(ctx, deviceID, sessionID, []ConnectionInput{in})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// RecordBatch stores all rows or none. The rows are attributed to the device's
// current owner.
func (r *ConnectionRecorder) RecordBatch(ctx context.Context, deviceID uint, sessionID *uint, inputs []ConnectionInput) ([]uint, error) {
	if len(inputs) == 0 {
		return nil, domain.Validation(domain.ReasonInvalidInput, "at least one connection is required")
	}
	if len(inputs) > MaxConnectionBatch {
		return nil, domain.Validation(domain.ReasonInvalidInput, fmt.Sprintf("at most %d connections per batch", MaxConnectionBatch))
	}
	device, err := r.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	rows := make([]domain.Connection, 0, len(inputs))
	for i, in := range inputs {
		row, err := connectionRow(in, now)
		if err != nil {
			return nil, domain.Validation(domain.ReasonInvalidInput, fmt.Sprintf("connection %d: %s", i, err.Error()))
		}
		row.DeviceID = device.ID
		row.ClientID = device.ClientID
		row.SessionID = sessionID
		rows = append(rows, row)
	}
	if err := r.connections.CreateBatch(ctx, rows); err != nil {
		return nil, err
	}
	ids := make([]uint, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	return ids, nil
}

func (r *ConnectionRecorder) List(ctx context.Context, f repository.ConnectionFilter, req repository.PageRequest) (repository.Page[domain.Connection], error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return repository.Page[domain.Connection]{}, domain.Validation(domain.ReasonInvalidInput, "to must not be before from")
	}
	return r.connections.List(ctx, f, req)
}

func (r *ConnectionRecorder) Count(ctx context.Context) (int64, error) {
	return r.connections.Count(ctx)
}

func connectionRow(in ConnectionInput, now time.Time) (domain.Connection, error) {
	proto := strings.ToLower(strings.TrimSpace(in.Protocol))
	if !knownProtocols[proto] {
		return domain.Connection{}, fmt.Errorf("unsupported protocol %q", in.Protocol)
	}
	for _, p := range []int{in.LocalPort, in.RemotePort} {
		if p < 0 || p > 65535 {
			return domain.Connection{}, fmt.Errorf("port %d out of range", p)
		}
	}
	for _, ip := range []string{in.LocalIP, in.RemoteIP} {
		if ip == "" {
			continue
		}
		if _, err := netip.ParseAddr(ip); err != nil {
			return domain.Connection{}, fmt.Errorf("invalid address %q", ip)
		}
	}
	if in.PID < 0 || in.BytesSent < 0 || in.BytesReceived < 0 {
		return domain.Connection{}, fmt.Errorf("counters must not be negative")
	}
	at := in.RecordedAt.UTC()
	if in.RecordedAt.IsZero() || at.After(now) {
		at = now
	}
	return domain.Connection{
		LocalIP:       in.LocalIP,
		LocalPort:     in.LocalPort,
		RemoteIP:      in.RemoteIP,
		RemotePort:    in.RemotePort,
		Protocol:      proto,
		State:         strings.ToUpper(strings.TrimSpace(in.State)),
		Process:       truncate(in.Process, 100),
		PID:           in.PID,
		BytesSent:     in.BytesSent,
		BytesReceived: in.BytesReceived,
		RecordedAt:    at,
	}, nil
}
