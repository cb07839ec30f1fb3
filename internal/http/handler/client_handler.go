package handler

import (
	"net/http"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/http/response"
	"github.com/sandeepkv93/device-presence-service/internal/service"
)

type ClientHandler struct {
	access service.AccessService
}

func NewClientHandler(access service.AccessService) *ClientHandler {
	return &ClientHandler{access: access}
}

type createClientRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=120"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Phone    string `json:"phone" validate:"max=20"`
	Company  string `json:"company" validate:"max=100"`
	Role     string `json:"role" validate:"omitempty,oneof=admin moderator user"`
}

type updateClientRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=100"`
	Email    *string `json:"email" validate:"omitempty,email,max=120"`
	Password *string `json:"password" validate:"omitempty,min=8,max=72"`
	Phone    *string `json:"phone" validate:"omitempty,max=20"`
	Company  *string `json:"company" validate:"omitempty,max=100"`
	Role     *string `json:"role" validate:"omitempty,oneof=admin moderator user"`
	Active   *bool   `json:"active"`
}

func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if !decodeAndValidate(w, r, rejectAs(h.access, domain.ActionClientCreated, domain.TargetClient), &req) {
		return
	}
	client, err := h.access.CreateClient(r.Context(), principal(r), service.CreateClientInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Phone:    req.Phone,
		Company:  req.Company,
		Role:     req.Role,
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, client)
}

func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	rj := rejectAs(h.access, domain.ActionClientUpdated, domain.TargetClient)
	id, ok := pathID(w, r, rj, "id")
	if !ok {
		return
	}
	rj.targetID = idString(id)
	var req updateClientRequest
	if !decodeAndValidate(w, r, rj, &req) {
		return
	}
	client, err := h.access.UpdateClient(r.Context(), principal(r), id, service.UpdateClientInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Phone:    req.Phone,
		Company:  req.Company,
		Role:     req.Role,
		Active:   req.Active,
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, client)
}

func (h *ClientHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, rejectAs(h.access, domain.ActionClientDeactivated, domain.TargetClient), "id")
	if !ok {
		return
	}
	client, err := h.access.DeactivateClient(r.Context(), principal(r), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, client)
}

func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, rejectAs(h.access, domain.ActionClientsListed, domain.TargetClient), "id")
	if !ok {
		return
	}
	client, err := h.access.GetClient(r.Context(), principal(r), id)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, client)
}

func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := h.access.ListClients(r.Context(), principal(r), pageRequest(r))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}
