package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/shoganaistudio/accounts/internal/app"
	iauth "github.com/shoganaistudio/accounts/internal/auth"
	"github.com/shoganaistudio/accounts/internal/auth/providers"
	"github.com/shoganaistudio/accounts/internal/handlers"
	"github.com/shoganaistudio/accounts/internal/middleware"
	"github.com/shoganaistudio/accounts/internal/services"
	"github.com/shoganaistudio/accounts/internal/store"
	"github.com/shoganaistudio/accounts/pkg/mail"
)

// NewRouter builds the Gin engine, wires middleware and registers all routes.
// The SSO handler is optional; nil disables the SSO endpoints.
func NewRouter(db *gorm.DB, cfg *app.Config, jwt *iauth.JWTService, sessions *iauth.SessionService, mailer mail.Mailer, sso *handlers.SSOHandler) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if jwt == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session service must be provided")
	}

	accounts, err := store.NewAccounts(db)
	if err != nil {
		return nil, err
	}

	registration, err := services.NewRegistrationService(accounts, mailer,
		services.WithVerificationBaseURL(cfg.Verification.BaseURL),
		services.WithVerificationExpiry(cfg.Verification.TokenTTL),
		services.WithVerificationTokenSize(cfg.Verification.TokenBytes),
	)
	if err != nil {
		return nil, err
	}

	verification, err := services.NewVerificationService(accounts)
	if err != nil {
		return nil, err
	}

	local, err := providers.NewLocalProvider(accounts, cfg.Auth.LocalProviderConfig())
	if err != nil {
		return nil, err
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.RateLimit(cfg.Server.RateLimit.MaxRequests, cfg.Server.RateLimit.Window))

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health())
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	authHandler := handlers.NewAuthHandler(registration, verification, local, sessions, accounts, cfg.UI.RedirectBase)

	// Public auth routes
	auth := r.Group("/api/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.GET("/verify", authHandler.Verify)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
	}

	if sso != nil {
		auth.GET("/sso/login", sso.Login)
		auth.GET("/sso/callback", sso.Callback)
	}

	// Authenticated auth routes
	requireAuth := middleware.Auth(jwt)
	api := r.Group("/api")
	api.Use(requireAuth)

	api.GET("/auth/me", authHandler.Me)
	api.POST("/auth/logout", authHandler.Logout)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
