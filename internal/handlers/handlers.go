package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"mestredb/api/internal/config"
	"mestredb/api/internal/middleware"
	"mestredb/api/internal/ratelimit"
	"mestredb/api/internal/service"
)

// Pinger is a dependency the health endpoint can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Dependencies struct {
	Auth    *service.AuthService
	Users   *service.UserService
	Limiter *ratelimit.Limiter
	// Database and Cache are nil when the process runs without them.
	Database Pinger
	Cache    Pinger
}

type HandlerSet struct {
	log         zerolog.Logger
	cfg         *config.AppConfig
	authService *service.AuthService
	userService *service.UserService
	limiter     *ratelimit.Limiter
	db          Pinger
	cache       Pinger
}

func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, deps Dependencies) HandlerSet {
	return HandlerSet{
		log:         log,
		cfg:         cfg,
		authService: deps.Auth,
		userService: deps.Users,
		limiter:     deps.Limiter,
		db:          deps.Database,
		cache:       deps.Cache,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.SignUp)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)

		protected := v1.Group("")
		protected.Use(middleware.Auth(h.authService))
		protected.GET("/auth/me", h.Me)
		protected.PATCH("/me", h.UpdateProfile)

		admin := v1.Group("/users")
		admin.Use(
			middleware.Auth(h.authService),
			middleware.RequireSuperuser(),
		)
		admin.GET("", h.ListUsers)
		admin.POST("", h.CreateUser)
		admin.GET("/deleted", h.ListDeletedUsers)
		admin.GET("/:id", h.GetUser)
		admin.PATCH("/:id", h.UpdateUser)
		admin.DELETE("/:id", h.DeleteUser)
		admin.POST("/:id/restore", h.RestoreUser)
		admin.DELETE("/:id/permanent", h.HardDeleteUser)
	}
}
