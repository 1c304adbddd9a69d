package handler

import (
	"deposit-ledger/internal/adapter/http/middleware"
	"deposit-ledger/internal/core/ports"
	"deposit-ledger/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Ledger         ports.LedgerService
	Registry       ports.AddressRegistry
	Reporting      ports.ReportingService
	Settings       ports.SettingsService
	Sweeps         ports.SweepAgent
	TokenSvc       ports.TokenService
	RateLimiter    middleware.RateLimitBackend // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Metrics        *metrics.Metrics // nil = no /metrics endpoint
	MinRetain      uint64           // default sweep retention floor, lamports
	Mode           string           // gin mode; empty means release
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	mode := deps.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(deps.Metrics.GinMiddleware())
	r.Use(middleware.MaxBodySize(1 << 16))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimiter, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1", middleware.OperatorAuth(deps.TokenSvc, deps.Logger))

	accountHandler := NewAccountHandler(deps.Ledger, deps.Registry, deps.Reporting)
	accounts := v1.Group("/accounts")
	{
		accounts.POST("", rl("accounts_write"), accountHandler.Create)
		accounts.GET("/:id", rl("accounts_read"), accountHandler.Get)
		accounts.POST("/:id/address", rl("accounts_write"), accountHandler.ProvisionAddress)
		accounts.GET("/:id/balance", rl("accounts_read"), accountHandler.Balance)
		accounts.POST("/:id/credits", rl("accounts_write"), accountHandler.Credit)
		accounts.POST("/:id/debits", rl("accounts_write"), accountHandler.Debit)
		accounts.POST("/:id/purchases", rl("purchases"), accountHandler.Purchase)
		accounts.GET("/:id/entries", rl("accounts_read"), accountHandler.Entries)
		accounts.GET("/:id/referrals", rl("accounts_read"), accountHandler.Referrals)
		accounts.GET("/:id/reconciliation", rl("reports"), accountHandler.Reconciliation)
	}

	if deps.Sweeps != nil {
		sweepHandler := NewSweepHandler(deps.Sweeps, deps.MinRetain, deps.Logger)
		sweeps := v1.Group("/sweeps", rl("sweeps"))
		{
			sweeps.POST("", sweepHandler.SweepAll)
			sweeps.POST("/:id", sweepHandler.SweepOne)
		}
	}

	adminHandler := NewAdminHandler(deps.Reporting, deps.Settings, deps.Logger)
	v1.GET("/stats", rl("reports"), adminHandler.Stats)
	settings := v1.Group("/settings", rl("settings"))
	{
		settings.GET("", adminHandler.ListSettings)
		settings.PUT("/:key", adminHandler.PutSetting)
	}

	return r
}
