package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rentease/messaging/internal/middleware"
	"github.com/rentease/messaging/internal/model"
	"github.com/rentease/messaging/internal/service"
	"github.com/rentease/messaging/pkg/logger"
)

// RouterConfig carries what the HTTP surface needs.
type RouterConfig struct {
	JWTSecret           string
	AllowedOrigins      []string
	RateLimitRequests   int
	IPRateLimitRequests int
	RateLimitWindow     time.Duration

	Directory     *service.Directory
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Events        Pinger
	Logger        *logger.Logger
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	healthHandler := NewHealthHandler(cfg.Events)
	conversationHandler := NewConversationHandler(cfg.Conversations, log)
	messageHandler := NewMessageHandler(cfg.Messages, log)
	tenantHandler := NewTenantHandler(cfg.Directory)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Tracing)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.IPRateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.IPRateLimitRequests, cfg.RateLimitWindow))
		}
		r.Use(middleware.Auth(cfg.JWTSecret))
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		for _, role := range []model.Role{model.RoleLandlord, model.RoleTenant} {
			r.Route("/"+role.Namespace()+"/messages", func(r chi.Router) {
				r.Use(middleware.RequireRole(role))

				r.Get("/conversations", conversationHandler.List)
				r.Post("/conversations", conversationHandler.Create)
				r.Get("/conversations/{id}", conversationHandler.Get)
				r.Delete("/conversations/{id}", conversationHandler.Delete)
				r.Get("/conversations/{id}/messages", messageHandler.List)
				r.Get("/stats", conversationHandler.Stats)
				r.Post("/send", messageHandler.Send)
				r.Delete("/{messageId}", messageHandler.Delete)
			})
		}

		r.With(middleware.RequireRole(model.RoleLandlord)).
			Get("/landlord/tenants/active", tenantHandler.Active)
	})

	return r
}
