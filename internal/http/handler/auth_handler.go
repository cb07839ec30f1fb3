package handler

import (
	"net/http"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/http/middleware"
	"github.com/sandeepkv93/device-presence-service/internal/http/response"
	"github.com/sandeepkv93/device-presence-service/internal/service"
)

type AuthHandler struct {
	access service.AccessService
}

func NewAuthHandler(access service.AccessService) *AuthHandler {
	return &AuthHandler{access: access}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=120"`
	Password string `json:"password" validate:"required,max=72"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeAndValidate(w, r, rejectAs(h.access, domain.ActionLoginDenied, domain.TargetClient), &req) {
		return
	}
	issued, err := h.access.Login(r.Context(), req.Email, req.Password, service.SessionMeta{
		UserAgent: r.UserAgent(),
		IP:        middleware.ClientIP(r),
	})
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, issued)
}

// Logout succeeds for unknown, expired and already revoked tokens alike.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.access.Logout(r.Context(), middleware.BearerToken(r), middleware.ClientIP(r)); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, principal(r))
}
