package handler

import (
	"net/http"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/http/response"
	"github.com/sandeepkv93/device-presence-service/internal/service"
)

type DeviceHandler struct {
	access service.AccessService
}

func NewDeviceHandler(access service.AccessService) *DeviceHandler {
	return &DeviceHandler{access: access}
}

type registerDeviceRequest struct {
	ClientID    uint   `json:"client_id"`
	Name        string `json:"name" validate:"max=100"`
	Kind        string `json:"kind" validate:"max=50"`
	Hostname    string `json:"hostname" validate:"required_without=MACAddress,max=100"`
	OS          string `json:"os" validate:"max=50"`
	OSVersion   string `json:"os_version" validate:"max=50"`
	LocalIP     string `json:"local_ip" validate:"omitempty,ip"`
	PublicIP    string `json:"public_ip" validate:"omitempty,ip"`
	MACAddress  string `json:"mac_address" validate:"omitempty,mac"`
	Processor   string `json:"processor" validate:"max=100"`
	MemoryTotal string `json:"memory_total" validate:"max=20"`
	DiskTotal   string `json:"disk_total" validate:"max=20"`
	IsVirtual   bool   `json:"is_virtual"`
	VirtualType string `json:"virtual_type" validate:"max=50"`
}

func (req registerDeviceRequest) systemInfo() domain.SystemInfo {
	return domain.SystemInfo{
		Name:        req.Name,
		Kind:        req.Kind,
		Hostname:    req.Hostname,
		OS:          req.OS,
		OSVersion:   req.OSVersion,
		LocalIP:     req.LocalIP,
		PublicIP:    req.PublicIP,
		MACAddress:  req.MACAddress,
		Processor:   req.Processor,
		MemoryTotal: req.MemoryTotal,
		DiskTotal:   req.DiskTotal,
		IsVirtual:   req.IsVirtual,
		VirtualType: req.VirtualType,
	}
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if !decodeAndValidate(w, r, rejectAs(h.access, domain.ActionDeviceRegistered, domain.TargetDevice), &req) {
		return
	}
	presence, err := h.access.RegisterDevice(r.Context(), principal(r), req.ClientID, req.systemInfo())
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, presence)
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := queryUint(w, r, rejectAs(h.access, domain.ActionDevicesListed, domain.TargetClient), "client_id")
	if !ok {
		return
	}
	items, err := h.access.ListDevices(r.Context(), principal(r), owner)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"items": items})
}

func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, rejectAs(h.access, domain.ActionDevicesListed, domain.TargetDevice), "id")
	if !ok {
		return
	}
	presence, err := h.access.GetDevice(r.Context(), principal(r), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, presence)
}

type heartbeatRequest struct {
	ObservedAt *time.Time `json:"observed_at"`
}

// Heartbeat accepts an empty body; the server clock is used then.
func (h *DeviceHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	rj := rejectAs(h.access, domain.ActionDeviceHeartbeat, domain.TargetDevice)
	id, ok := pathID(w, r, rj, "id")
	if !ok {
		return
	}
	rj.targetID = idString(id)
	var req heartbeatRequest
	if r.ContentLength != 0 && !decodeAndValidate(w, r, rj, &req) {
		return
	}
	var in service.HeartbeatInput
	if req.ObservedAt != nil {
		in.ObservedAt = req.ObservedAt.UTC()
	}
	presence, err := h.access.Heartbeat(r.Context(), principal(r), id, in)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, presence)
}

func (h *DeviceHandler) ForceOffline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, rejectAs(h.access, domain.ActionDeviceForcedOffline, domain.TargetDevice), "id")
	if !ok {
		return
	}
	presence, err := h.access.ForceOffline(r.Context(), principal(r), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, presence)
}

type connectionRequest struct {
	LocalIP       string     `json:"local_ip" validate:"required,ip"`
	LocalPort     int        `json:"local_port" validate:"gte=0,lte=65535"`
	RemoteIP      string     `json:"remote_ip" validate:"omitempty,ip"`
	RemotePort    int        `json:"remote_port" validate:"gte=0,lte=65535"`
	Protocol      string     `json:"protocol" validate:"required,oneof=tcp tcp6 udp udp6 TCP TCP6 UDP UDP6"`
	State         string     `json:"state" validate:"max=20"`
	Process       string     `json:"process" validate:"max=100"`
	PID           int        `json:"pid" validate:"gte=0"`
	BytesSent     int64      `json:"bytes_sent" validate:"gte=0"`
	BytesReceived int64      `json:"bytes_received" validate:"gte=0"`
	RecordedAt    *time.Time `json:"recorded_at"`
}

type recordConnectionsRequest struct {
	Connections []connectionRequest `json:"connections" validate:"required,min=1,max=1000,dive"`
}

func (h *DeviceHandler) RecordConnections(w http.ResponseWriter, r *http.Request) {
	rj := rejectAs(h.access, domain.ActionConnectionsRecorded, domain.TargetDevice)
	id, ok := pathID(w, r, rj, "id")
	if !ok {
		return
	}
	rj.targetID = idString(id)
	var req recordConnectionsRequest
	if !decodeAndValidate(w, r, rj, &req) {
		return
	}
	in := make([]service.ConnectionInput, 0, len(req.Connections))
	for _, c := range req.Connections {
		row := service.ConnectionInput{
			LocalIP:       c.LocalIP,
			LocalPort:     c.LocalPort,
			RemoteIP:      c.RemoteIP,
			RemotePort:    c.RemotePort,
			Protocol:      c.Protocol,
			State:         c.State,
			Process:       c.Process,
			PID:           c.PID,
			BytesSent:     c.BytesSent,
			BytesReceived: c.BytesReceived,
		}
		if c.RecordedAt != nil {
			row.RecordedAt = c.RecordedAt.UTC()
		}
		in = append(in, row)
	}
	ids, err := h.access.RecordConnections(r.Context(), principal(r), id, in)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{"ids": ids, "count": len(ids)})
}
