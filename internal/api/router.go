/**
 * @description
 * This file sets up the HTTP router for the rewards-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication, CORS and metrics.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the web client.
 * - internal/metrics: Prometheus request instrumentation and scrape endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/recyclr/rewards-service/internal/metrics"
)

// RouterOptions configures the cross-cutting parts of the router.
type RouterOptions struct {
	AllowedOrigins []string
	InternalAPIKey string
	// authMiddleware overrides Clerk authentication; used by tests.
	authMiddleware func(http.Handler) http.Handler
}

// RewardsRoutes creates and returns the router for the rewards service.
func RewardsRoutes(h *RewardsHandlers, jwksURL string, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.InstrumentHandler)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", internalAPIKeyHeader},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	r.Handle("/metrics", metrics.Handler())

	auth := opts.authMiddleware
	if auth == nil {
		auth = ClerkAuthMiddleware(jwksURL)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth)

			r.Post("/submissions", h.CreateSubmissionHandler)
			r.Get("/submissions", h.ListSubmissionsHandler)
			r.Get("/submissions/{id}", h.GetSubmissionHandler)
			r.Post("/submissions/{id}/payload", h.RebuildPayloadHandler)
			r.Post("/submissions/{id}/submit-transaction", h.SubmitTransactionHandler)
			r.Post("/submissions/{id}/verify-transaction", h.VerifyTransactionHandler)

			r.Get("/points/balance", h.GetBalanceHandler)
			r.Get("/points/transactions", h.GetPointsHistoryHandler)
			r.Post("/points/redeem", h.RedeemPointsHandler)
			r.Get("/points/leaderboard", h.LeaderboardHandler)

			r.Get("/pricing/supported-item-types", h.SupportedItemTypesHandler)
			r.Post("/pricing/calculate", h.CalculatePointsHandler)
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(opts.InternalAPIKey))
		r.Post("/submissions/{id}/force-verify", h.ForceVerifyHandler)
		r.Post("/submissions/reconcile", h.ReconcileHandler)
		r.Post("/points/bonus", h.GrantBonusHandler)
	})

	return r
}
