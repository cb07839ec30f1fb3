package handler

import (
	"net/http"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/http/response"
	"github.com/sandeepkv93/device-presence-service/internal/service"
)

type ChatHandler struct {
	access service.AccessService
}

func NewChatHandler(access service.AccessService) *ChatHandler {
	return &ChatHandler{access: access}
}

type postChatRequest struct {
	Room string `json:"room" validate:"max=50"`
	Body string `json:"body" validate:"required"`
	Kind string `json:"kind" validate:"omitempty,oneof=text system alert"`
}

func (h *ChatHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req postChatRequest
	if !decodeAndValidate(w, r, rejectAs(h.access, domain.ActionChatMessagePosted, domain.TargetChat), &req) {
		return
	}
	msg, err := h.access.PostChat(r.Context(), principal(r), service.ChatInput{Room: req.Room, Body: req.Body, Kind: req.Kind})
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, msg)
}

func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.access.ListChat(r.Context(), principal(r), r.URL.Query().Get("room"), queryInt(r, "limit", 0))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"items": msgs})
}
