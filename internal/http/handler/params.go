package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/device-presence-service/internal/http/middleware"
	"github.com/sandeepkv93/device-presence-service/internal/repository"
	"github.com/sandeepkv93/device-presence-service/internal/service"
)

func principal(r *http.Request) *service.Principal {
	p, _ := middleware.PrincipalFromContext(r.Context())
	return p
}

func pathID(w http.ResponseWriter, r *http.Request, rj rejection, name string) (uint, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		if len(raw) > 64 {
			raw = raw[:64]
		}
		rj.targetID = raw
		rj.reject(w, r, "invalid "+name, nil)
		return 0, false
	}
	return uint(id), true
}

// queryUint returns nil when the parameter is absent.
func queryUint(w http.ResponseWriter, r *http.Request, rj rejection, name string) (*uint, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		rj.reject(w, r, "invalid "+name, nil)
		return nil, false
	}
	id := uint(v)
	return &id, true
}

func queryTime(w http.ResponseWriter, r *http.Request, rj rejection, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		rj.reject(w, r, name+" must be RFC3339", nil)
		return nil, false
	}
	t = t.UTC()
	return &t, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return fallback
	}
	return v
}

func pageRequest(r *http.Request) repository.PageRequest {
	return repository.PageRequest{Page: queryInt(r, "page", 1), PageSize: queryInt(r, "page_size", 0)}
}

func idString(id uint) string { return strconv.FormatUint(uint64(id), 10) }
