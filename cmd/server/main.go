package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Paparusi/labo-sub000/internal/config"
	"github.com/Paparusi/labo-sub000/internal/domain"
	"github.com/Paparusi/labo-sub000/internal/logging"
	"github.com/Paparusi/labo-sub000/internal/metrics"
	appMiddleware "github.com/Paparusi/labo-sub000/internal/middleware"
	"github.com/Paparusi/labo-sub000/internal/repository"
	"github.com/Paparusi/labo-sub000/internal/service"
	"github.com/Paparusi/labo-sub000/pkg/crypto"
	"github.com/Paparusi/labo-sub000/pkg/payment"
	"github.com/rs/zerolog"
)

const planCacheTTL = 5 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	health := map[string]repository.Pinger{}

	var store repository.Store
	switch cfg.Store {
	case config.StoreMemory:
		mem := repository.NewMemoryStore()
		plans, err := config.LoadPlanCatalog(cfg.Catalog)
		if err != nil {
			return fmt.Errorf("plan catalog: %w", err)
		}
		for _, p := range plans {
			if err := mem.UpsertPlan(ctx, p); err != nil {
				return fmt.Errorf("seed plan %s: %w", p.Slug, err)
			}
		}
		store = mem
		logger.Warn().Int("plans", len(plans)).Msg("using in-memory store, data is lost on restart")
	default:
		db, err := repository.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		if err := repository.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		logger.Info().Msg("database connected and migrated")
		store = repository.NewPostgresStore(db)
	}
	health["database"] = store

	checkoutLimiter := appMiddleware.Limiter(appMiddleware.NewWindowLimiter(cfg.Billing.CheckoutLimit, cfg.Billing.CheckoutWindow))
	if cfg.RedisURL != "" {
		rdb, err := repository.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rdb.Close()

		kv := repository.NewRedisKV(rdb, "labo:")
		store = repository.WithPlanCache(store, kv, planCacheTTL)
		checkoutLimiter = appMiddleware.NewRedisLimiter(rdb, "labo:", cfg.Billing.CheckoutLimit, cfg.Billing.CheckoutWindow)
		health["redis"] = kv
		logger.Info().Msg("redis connected, plan cache and shared checkout limiter enabled")
	}

	var sealer *crypto.Sealer
	if cfg.EncryptionKey != "" {
		s, err := crypto.NewSealer(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("encryption: %w", err)
		}
		sealer = s
	} else {
		logger.Warn().Msg("ENCRYPTION_KEY not set, gateway payloads are stored in clear")
	}

	gateway, err := payment.NewHMACGateway(payment.Config{
		PayURL:     cfg.Gateway.PayURL,
		TmnCode:    cfg.Gateway.TmnCode,
		HashSecret: cfg.Gateway.HashSecret,
		ReturnURL:  cfg.Gateway.ReturnURL,
		Locale:     cfg.Gateway.Locale,
		Location:   cfg.Gateway.Location,
	})
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	subs := service.NewSubscriptionService(store, service.TrialPolicy{
		Days:     cfg.Billing.TrialDays,
		PlanSlug: cfg.Billing.TrialPlan,
	}, logger)
	ledger := service.NewLedger(store, subs, sealer, logger)
	checkout := service.NewCheckoutService(store, ledger, gateway, domain.BankAccount{
		BankName:      cfg.Billing.BankName,
		AccountNumber: cfg.Billing.BankAccount,
		AccountName:   cfg.Billing.BankHolder,
	}, logger)
	returns := service.NewReturnService(store, gateway, ledger, logger)
	recon := service.NewReconciliationService(store, ledger, logger)
	authSvc := service.NewAuthService(cfg.JWTSecret, cfg.AdminEmail, cfg.AdminPassword, store, subs, logger)

	// Seed admin account on first startup
	if err := authSvc.SeedAdmin(ctx); err != nil {
		return fmt.Errorf("admin seed: %w", err)
	}

	router := newRouter(routerDeps{
		log:             logger,
		corsOrigins:     cfg.CORSOrigins,
		frontendURL:     cfg.Gateway.FrontendURL,
		trustedProxies:  cfg.TrustedProxies,
		plans:           store,
		health:          health,
		auth:            authSvc,
		subs:            subs,
		checkout:        checkout,
		returns:         returns,
		recon:           recon,
		globalLimiter:   appMiddleware.NewRateLimiter(20, 40),
		checkoutLimiter: checkoutLimiter,
	})

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("store", cfg.Store).Msg("billing API listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
