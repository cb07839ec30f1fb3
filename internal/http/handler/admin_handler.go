package handler

import (
	"net/http"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/http/response"
	"github.com/sandeepkv93/device-presence-service/internal/repository"
	"github.com/sandeepkv93/device-presence-service/internal/service"
)

// AdminHandler serves the moderator and admin surfaces. Role checks happen in
// the access service so every refusal is audited.
type AdminHandler struct {
	access service.AccessService
}

func NewAdminHandler(access service.AccessService) *AdminHandler {
	return &AdminHandler{access: access}
}

func (h *AdminHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	rj := rejectAs(h.access, domain.ActionConnectionsListed, domain.TargetDevice)
	deviceID, ok := queryUint(w, r, rj, "device_id")
	if !ok {
		return
	}
	clientID, ok := queryUint(w, r, rj, "client_id")
	if !ok {
		return
	}
	from, ok := queryTime(w, r, rj, "from")
	if !ok {
		return
	}
	to, ok := queryTime(w, r, rj, "to")
	if !ok {
		return
	}
	page, err := h.access.ListConnections(r.Context(), principal(r), repository.ConnectionFilter{
		DeviceID: deviceID,
		ClientID: clientID,
		From:     from,
		To:       to,
	}, pageRequest(r))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

type auditQuery struct {
	Actor  string `json:"actor" validate:"max=64"`
	Action string `json:"action" validate:"max=64"`
	Limit  int    `json:"limit" validate:"gte=0,lte=500"`
}

func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := auditQuery{
		Actor:  r.URL.Query().Get("actor"),
		Action: r.URL.Query().Get("action"),
		Limit:  queryInt(r, "limit", 0),
	}
	rj := rejectAs(h.access, domain.ActionAuditLogRead, domain.TargetAudit)
	if !validateQuery(w, r, rj, &q) {
		return
	}
	from, ok := queryTime(w, r, rj, "from")
	if !ok {
		return
	}
	to, ok := queryTime(w, r, rj, "to")
	if !ok {
		return
	}
	after := queryInt(r, "after_sequence", 0)
	if after < 0 {
		after = 0
	}
	entries, err := h.access.ListAudit(r.Context(), principal(r), repository.AuditFilter{
		Actor:         q.Actor,
		Action:        q.Action,
		From:          from,
		To:            to,
		AfterSequence: uint64(after),
		Limit:         q.Limit,
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"items": entries})
}

func (h *AdminHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, rejectAs(h.access, domain.ActionSessionRevoked, domain.TargetSession), "id")
	if !ok {
		return
	}
	session, err := h.access.RevokeSession(r.Context(), principal(r), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, session)
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.access.Stats(r.Context(), principal(r))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, stats)
}
