package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"chatgate/internal/api"
	"chatgate/internal/api/handlers"
	"chatgate/internal/api/middleware"
	"chatgate/internal/engine/apikeys"
	"chatgate/internal/engine/chatpolicy"
	"chatgate/internal/engine/policies"
	"chatgate/internal/engine/scopes"
	"chatgate/internal/engine/usage"
	"chatgate/internal/pkg/logger"
	"chatgate/internal/pkg/metrics"
	"chatgate/internal/platform/audit"
	"chatgate/internal/platform/auth"
	"chatgate/internal/platform/config"
	"chatgate/internal/platform/database"
	"chatgate/internal/platform/repositories"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Init(cfg.Logging)
	metrics.Init()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Repositories
	keyRepo := repositories.NewAPIKeyRepository(db)
	userRepo := repositories.NewUserRepository(db)
	workspaceRepo := repositories.NewWorkspaceRepository(db)
	memberRepo := repositories.NewMembershipRepository(db)
	flagRepo := repositories.NewFeatureFlagRepository(db)
	policyRepo := policies.NewRepository(db)
	usageRepo := usage.NewRepository(db)

	// Services
	auditLogger := audit.NewLogger(db)
	tokenSvc := auth.NewTokenService(cfg.JWT)
	authz := apikeys.NewAuthorizer(keyRepo,
		apikeys.WithCache(cfg.APIKeys.CacheTTL),
		apikeys.WithLastUsed(keyRepo),
	)
	keySvc := apikeys.NewService(keyRepo, authz, auditLogger, cfg.APIKeys.SecretPrefix)
	resolver := policies.NewResolver(policyRepo)
	policySvc := policies.NewService(policyRepo, resolver, auditLogger)
	tracker := usage.NewTracker(usageRepo, cfg.Quota)
	usageSvc := usage.NewService(usageRepo, tracker)
	enforcer := chatpolicy.NewEnforcer(flagRepo, memberRepo, resolver, tracker)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)
	stopLimiter := make(chan struct{})
	go rateLimiter.Run(stopLimiter)
	defer close(stopLimiter)

	deps := &api.Dependencies{
		AuthHandler:         handlers.NewAuthHandler(userRepo, tokenSvc),
		APIKeyHandler:       handlers.NewAPIKeyHandler(keySvc),
		PolicyHandler:       handlers.NewPolicyHandler(policySvc, memberRepo),
		ChatHandler:         handlers.NewChatHandler(enforcer),
		UsageHandler:        handlers.NewUsageHandler(usageSvc),
		AuditHandler:        handlers.NewAuditHandler(auditLogger),
		HealthHandler:       handlers.NewHealthHandler(db),
		AuthMiddleware:      middleware.NewAuthMiddleware(tokenSvc, authz, scopes.Default()),
		WorkspaceMiddleware: middleware.NewWorkspaceMiddleware(workspaceRepo),
		RateLimiter:         rateLimiter,
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("driver", db.Driver).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
