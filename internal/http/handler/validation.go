package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/http/middleware"
	"github.com/sandeepkv93/device-presence-service/internal/http/response"
	"github.com/sandeepkv93/device-presence-service/internal/service"
)

type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

type requestValidator struct {
	once       sync.Once
	validate   *validator.Validate
	translator ut.Translator
}

var defaultValidator requestValidator

func (v *requestValidator) init() {
	v.once.Do(func() {
		v.validate = validator.New(validator.WithRequiredStructEnabled())
		v.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		locale := en.New()
		v.translator, _ = ut.New(locale, locale).GetTranslator("en")
		_ = entranslations.RegisterDefaultTranslations(v.validate, v.translator)
	})
}

func (v *requestValidator) Struct(dst any) []FieldError {
	v.init()
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Rule: "invalid", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Rule: fe.Tag(), Message: fe.Translate(v.translator)})
	}
	return out
}

// rejection names the audit entry a malformed request is recorded under.
type rejection struct {
	access     service.AccessService
	action     string
	targetType string
	targetID   string
}

func rejectAs(access service.AccessService, action, targetType string) rejection {
	return rejection{access: access, action: action, targetType: targetType}
}

// reject records the refusal and writes the 400. If the denial cannot be
// stored the caller gets the storage error instead.
func (rj rejection) reject(w http.ResponseWriter, r *http.Request, message string, details any) {
	rec := service.AuditRecord{
		Action:     rj.action,
		TargetType: rj.targetType,
		TargetID:   rj.targetID,
		IP:         middleware.ClientIP(r),
	}
	cause := domain.Validation(domain.ReasonInvalidInput, message)
	if err := rj.access.RejectRequest(r.Context(), principal(r), rec, cause); domain.KindOf(err) != domain.KindValidation {
		response.FromError(w, r, err)
		return
	}
	response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

// decodeAndValidate writes the 400 response itself and reports whether the
// handler should continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, rj rejection, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "invalid json body"
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			msg = "request body is required"
		case errors.As(err, &maxErr):
			msg = fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)
		}
		rj.reject(w, r, msg, nil)
		return false
	}
	if fields := defaultValidator.Struct(dst); len(fields) > 0 {
		rj.reject(w, r, "request validation failed", fields)
		return false
	}
	return true
}

func validateQuery(w http.ResponseWriter, r *http.Request, rj rejection, dst any) bool {
	if fields := defaultValidator.Struct(dst); len(fields) > 0 {
		rj.reject(w, r, "invalid query parameters", fields)
		return false
	}
	return true
}
