package main

import (
	"net/http"

	"github.com/Paparusi/labo-sub000/internal/handler"
	appMiddleware "github.com/Paparusi/labo-sub000/internal/middleware"
	"github.com/Paparusi/labo-sub000/internal/repository"
	"github.com/Paparusi/labo-sub000/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// routerDeps is everything the HTTP surface is built from.
type routerDeps struct {
	log         *zerolog.Logger
	corsOrigins []string
	frontendURL string

	// trustedProxies may set client address headers; empty trusts none.
	trustedProxies handler.TrustedProxies

	plans  repository.PlanStore
	health map[string]repository.Pinger

	auth     *service.AuthService
	subs     *service.SubscriptionService
	checkout *service.CheckoutService
	returns  *service.ReturnService
	recon    *service.ReconciliationService

	// globalLimiter is nil to disable the per-IP limiter.
	globalLimiter   appMiddleware.Limiter
	checkoutLimiter appMiddleware.Limiter
}

func newRouter(d routerDeps) http.Handler {
	authHandler := handler.NewAuthHandler(d.auth)
	accountHandler := handler.NewAccountHandler(d.auth)
	healthHandler := handler.NewHealthHandler(d.health)
	plansHandler := handler.NewPlansHandler(d.plans)
	paymentHandler := handler.NewPaymentHandler(d.checkout, d.returns, d.frontendURL)
	subscriptionHandler := handler.NewSubscriptionHandler(d.subs)
	adminHandler := handler.NewAdminHandler(d.recon)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(appMiddleware.RealIP(d.trustedProxies))
	r.Use(appMiddleware.Recovery(d.log))
	r.Use(appMiddleware.Logger(d.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if d.globalLimiter != nil {
		r.Use(appMiddleware.RateLimit(d.globalLimiter, appMiddleware.ByClientIP, "global"))
	}

	// Health check and public routes (no auth)
	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/plans", plansHandler.List)
	// Public: the gateway sends the browser here; the signature is the auth.
	r.Get("/api/payment/return", paymentHandler.Return)

	// Auth routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.StrictRateLimiter())
		r.Post("/api/auth/login", authHandler.Login)
	})

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(d.auth))

		r.Get("/api/auth/me", authHandler.Me)

		// Factory routes
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.FactoryOnly)
			r.With(appMiddleware.RateLimit(d.checkoutLimiter, appMiddleware.ByAccount, "checkout")).
				Post("/api/payment/checkout", paymentHandler.Checkout)
			r.Post("/api/payment/bank-transfer", paymentHandler.BankTransfer)
			r.Get("/api/subscription", subscriptionHandler.Current)
			r.Get("/api/subscription/quota", subscriptionHandler.Quota)
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(appMiddleware.AdminOnly)
			r.Get("/api/admin/payments/pending", adminHandler.Pending)
			r.Post("/api/admin/payments/confirm", adminHandler.Confirm)
			r.Post("/api/admin/payments/reject", adminHandler.Reject)
			r.Get("/api/admin/payments/{id}", adminHandler.Get)
			r.Get("/api/admin/accounts", accountHandler.List)
			r.Post("/api/admin/accounts", accountHandler.Create)
			r.Get("/api/admin/stats", adminHandler.Stats)
		})
	})

	return r
}
