package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Erenimo3442/GroupChatting/internal/auth"
	"github.com/Erenimo3442/GroupChatting/internal/hub"
	"github.com/Erenimo3442/GroupChatting/internal/service"
	"github.com/Erenimo3442/GroupChatting/pkg/health"
	"github.com/Erenimo3442/GroupChatting/pkg/middleware"
)

// RouterConfig carries the handler-level settings the router needs.
type RouterConfig struct {
	CORS          middleware.CORSConfig
	MaxUploadSize int64
}

// NewRouter creates a chi router with all chat service routes registered.
func NewRouter(
	userService *service.UserService,
	groupService *service.GroupService,
	messageService *service.MessageService,
	chatHub *hub.Hub,
	jwtManager *auth.JWTManager,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("chat"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Auth endpoints (public)
	authHandler := NewAuthHandler(userService, logger)
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.RefreshToken)
	})

	// Token validator that bridges to our internal JWTManager.
	tokenValidator := func(token string) (*middleware.Claims, error) {
		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			UserID:   claims.UserID,
			Username: claims.Username,
		}, nil
	}

	// Profile endpoint (auth required)
	r.Route("/api/v1/users", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(tokenValidator))

		r.Get("/me", authHandler.GetProfile)
	})

	// Group, membership, and message endpoints (auth required)
	groupHandler := NewGroupHandler(groupService, logger)
	messageHandler := NewMessageHandler(messageService, cfg.MaxUploadSize, logger)

	r.Route("/api/v1/groups", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(tokenValidator))

		r.Post("/", groupHandler.Create)
		r.Get("/", groupHandler.List)
		r.Get("/{id}", groupHandler.Get)
		r.Get("/{id}/members", groupHandler.ListMembers)
		r.Post("/{id}/invite", groupHandler.Invite)
		r.Post("/{id}/apply", groupHandler.Apply)
		r.Post("/{id}/accept", groupHandler.Accept)
		r.Post("/{id}/approve", groupHandler.Approve)
		r.Post("/{id}/join", groupHandler.Join)

		r.Post("/{id}/messages", messageHandler.Send)
		r.Get("/{id}/messages", messageHandler.List)
	})

	r.Route("/api/v1/messages", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(tokenValidator))

		r.Put("/{id}", messageHandler.Update)
		r.Delete("/{id}", messageHandler.Delete)
		r.Get("/{id}/file", messageHandler.Download)
	})

	// Attachment upload is multipart, so it skips the JSON content-type gate.
	r.Route("/api/v1/files", func(r chi.Router) {
		r.Use(middleware.Auth(tokenValidator))

		r.Post("/", messageHandler.Upload)
	})

	// Websocket endpoint for real-time delivery. Browsers cannot set
	// headers on websocket dials, so a ?token= query parameter is lifted
	// into the Authorization header before the auth middleware runs.
	wsHandler := NewWSHandler(chatHub, cfg.CORS, logger)
	r.Route("/ws", func(r chi.Router) {
		r.Use(tokenFromQuery)
		r.Use(middleware.Auth(tokenValidator))

		r.Get("/", wsHandler.Serve)
	})

	return r
}
