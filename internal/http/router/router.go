package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/device-presence-service/internal/health"
	"github.com/sandeepkv93/device-presence-service/internal/http/handler"
	"github.com/sandeepkv93/device-presence-service/internal/http/middleware"
	"github.com/sandeepkv93/device-presence-service/internal/http/response"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	DeviceHandler    *handler.DeviceHandler
	AdminHandler     *handler.AdminHandler
	ClientHandler    *handler.ClientHandler
	ChatHandler      *handler.ChatHandler
	Authenticator    middleware.Authenticator
	AuthRateLimiter  func(http.Handler) http.Handler
	APIRateLimiter   func(http.Handler) http.Handler
	AuthRateLimitRPM int
	APIRateLimitRPM  int
	Readiness        *health.ProbeRunner
	Logger           *slog.Logger
	EnableOTelHTTP   bool
}

const maxBodyBytes = 1 << 20

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger(dep.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(maxBodyBytes))

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(nil, dep.AuthRateLimitRPM, middleware.FailClosed, "auth", middleware.IPKey, dep.Logger).Middleware()
	}
	apiLimiter := dep.APIRateLimiter
	if apiLimiter == nil {
		apiLimiter = middleware.NewRateLimiter(nil, dep.APIRateLimitRPM, middleware.FailClosed, "api", middleware.PrincipalOrIPKey, dep.Logger).Middleware()
	}
	authn := middleware.AuthMiddleware(dep.Authenticator)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(authLimiter).Post("/logout", dep.AuthHandler.Logout)
			r.With(authn, apiLimiter).Get("/session", dep.AuthHandler.Session)
		})

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Use(apiLimiter)

			r.Route("/devices", func(r chi.Router) {
				r.Post("/", dep.DeviceHandler.Register)
				r.Get("/", dep.DeviceHandler.List)
				r.Get("/{id}", dep.DeviceHandler.Get)
				r.Post("/{id}/heartbeat", dep.DeviceHandler.Heartbeat)
				r.Post("/{id}/force-offline", dep.DeviceHandler.ForceOffline)
				r.Post("/{id}/connections", dep.DeviceHandler.RecordConnections)
			})
			r.Get("/connections", dep.AdminHandler.ListConnections)
			r.Get("/audit", dep.AdminHandler.ListAudit)
			r.Delete("/sessions/{id}", dep.AdminHandler.RevokeSession)
			r.Get("/stats", dep.AdminHandler.Stats)

			r.Route("/clients", func(r chi.Router) {
				r.Get("/", dep.ClientHandler.List)
				r.Post("/", dep.ClientHandler.Create)
				r.Get("/{id}", dep.ClientHandler.Get)
				r.Patch("/{id}", dep.ClientHandler.Update)
				r.Delete("/{id}", dep.ClientHandler.Deactivate)
			})

			r.Route("/chat/messages", func(r chi.Router) {
				r.Get("/", dep.ChatHandler.List)
				r.Post("/", dep.ChatHandler.Post)
			})
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
