package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/domain"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
	Meta    meta        `json:"meta"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &apiError{Code: code, Message: message, Details: details}, Meta: buildMeta(r)})
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}

// FromError writes the envelope for an error returned by the core. Storage
// faults never leak their cause to the caller.
func FromError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	message := "storage is temporarily unavailable"
	var de *domain.Error
	if !domain.IsStorageFault(err) && errors.As(err, &de) {
		message = de.Message
	}
	var details interface{}
	switch status {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusConflict:
		details = map[string]string{"reason": domain.ReasonOf(err)}
	}
	Error(w, r, status, code, message, details)
}

// StatusFor maps an error to its HTTP status and machine readable code.
func StatusFor(err error) (int, string) {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case domain.KindAuthentication:
		switch domain.ReasonOf(err) {
		case domain.ReasonTokenExpired:
			return http.StatusUnauthorized, "TOKEN_EXPIRED"
		case domain.ReasonTokenRevoked:
			return http.StatusUnauthorized, "TOKEN_REVOKED"
		case domain.ReasonTokenMissing:
			return http.StatusUnauthorized, "TOKEN_MISSING"
		case domain.ReasonInvalidCredentials:
			return http.StatusUnauthorized, "INVALID_CREDENTIALS"
		case domain.ReasonClientInactive:
			return http.StatusUnauthorized, "CLIENT_INACTIVE"
		default:
			return http.StatusUnauthorized, "TOKEN_UNKNOWN"
		}
	case domain.KindAuthorization:
		return http.StatusForbidden, "FORBIDDEN"
	case domain.KindNotFound:
		if domain.ReasonOf(err) == domain.ReasonUnknownDevice {
			return http.StatusNotFound, "UNKNOWN_DEVICE"
		}
		return http.StatusNotFound, "NOT_FOUND"
	case domain.KindConflict:
		return http.StatusConflict, "CONFLICT"
	case domain.KindStorageTimeout:
		return http.StatusGatewayTimeout, "STORAGE_TIMEOUT"
	default:
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"
	}
}
