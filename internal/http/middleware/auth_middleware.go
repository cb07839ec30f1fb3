package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/sandeepkv93/device-presence-service/internal/http/response"
	"github.com/sandeepkv93/device-presence-service/internal/service"
)

type contextKey string

const (
	PrincipalContextKey contextKey = "principal"
)

// Authenticator is the slice of the access service the auth middleware needs.
type Authenticator interface {
	Authenticate(ctx context.Context, token, ip string) (*service.Principal, error)
}

// AuthMiddleware resolves the bearer token into a principal. Missing tokens are
// still handed to the authenticator so the refusal lands in the audit trail.
func AuthMiddleware(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authn.Authenticate(r.Context(), BearerToken(r), ClientIP(r))
			if err != nil {
				response.FromError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), PrincipalContextKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func PrincipalFromContext(ctx context.Context) (*service.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*service.Principal)
	return p, ok && p != nil
}

func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// ClientIP returns the host part of RemoteAddr. chi's RealIP middleware runs
// first so proxies are already accounted for.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}
