package main

import (
	"net/http"

	"github.com/rs/zerolog"

	"bankrecon/internal/app"
	httphandlers "bankrecon/internal/interfaces/http"
	"bankrecon/internal/shared/config"
	"bankrecon/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *app.Dependencies, cfg *config.Config, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", httphandlers.HandleHealth)

	// Protected routes
	authMiddleware := middleware.Auth(deps.JWT)
	protect := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authMiddleware(h))
	}

	protect("GET /api/institutions", deps.InstitutionHandler.HandleList)

	protect("GET /api/connections", deps.ConnectionHandler.HandleList)
	protect("POST /api/connections", deps.ConnectionHandler.HandleCreate)
	protect("GET /api/connections/{id}", deps.ConnectionHandler.HandleGet)
	protect("POST /api/connections/{id}/transitions", deps.ConnectionHandler.HandleTransition)
	protect("POST /api/connections/{id}/activate", deps.ConnectionHandler.HandleActivate)
	protect("POST /api/connections/{id}/ingestions", deps.IngestionHandler.HandleRun)
	protect("POST /api/connections/{id}/ingestions/batch", deps.IngestionHandler.HandleBatch)

	protect("GET /api/audit", deps.AuditHandler.HandleQuery)

	protect("GET /api/rules", deps.MatchingHandler.HandleListRules)
	protect("POST /api/rules", deps.MatchingHandler.HandleCreateRule)
	protect("POST /api/rules/learn", deps.MatchingHandler.HandleLearnRule)
	protect("DELETE /api/rules/{id}", deps.MatchingHandler.HandleDeleteRule)

	protect("GET /api/transactions/{id}/matches", deps.MatchingHandler.HandleListMatches)
	protect("POST /api/transactions/{id}/evaluate", deps.MatchingHandler.HandleEvaluate)

	protect("GET /api/reconciliation/summary", deps.MatchingHandler.HandleSummary)

	// Apply global middleware, innermost first
	handler := middleware.CORS(cfg.Server.AllowedHosts)(mux)
	handler = middleware.Recover(handler)
	handler = middleware.Logging(log)(handler)
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(handler)
	}

	// Apply security middleware when TLS is enabled
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(handler)
		log.Info().Msg("TLS security middleware enabled (HSTS)")
	}

	return handler
}
