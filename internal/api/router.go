package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "chatgate/internal/api/context"
	"chatgate/internal/api/handlers"
	"chatgate/internal/api/middleware"
	"chatgate/internal/pkg/errors"
	"chatgate/internal/pkg/metrics"
)

type Dependencies struct {
	AuthHandler         *handlers.AuthHandler
	APIKeyHandler       *handlers.APIKeyHandler
	PolicyHandler       *handlers.PolicyHandler
	ChatHandler         *handlers.ChatHandler
	UsageHandler        *handlers.UsageHandler
	AuditHandler        *handlers.AuditHandler
	HealthHandler       *handlers.HealthHandler
	AuthMiddleware      *middleware.AuthMiddleware
	WorkspaceMiddleware *middleware.WorkspaceMiddleware
	RateLimiter         *middleware.RateLimiter
}

func NewRouter(deps *Dependencies) http.Handler {
	router := httprouter.New()
	rt := &routes{Router: router}

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Route not found", nil)
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusMethodNotAllowed, errors.ErrCodeInvalidInput, "Method not allowed", nil)
	})

	rt.handle(http.MethodGet, "/health", wrap(deps.HealthHandler.Check))
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())

	// Middleware references
	authMid := deps.AuthMiddleware
	wsMid := deps.WorkspaceMiddleware
	limit := deps.RateLimiter.Handle

	// Authentication routes
	rt.handle(http.MethodPost, "/api/v1/auth/login", chain(deps.AuthHandler.Login, limit))
	rt.handle(http.MethodPost, "/api/v1/auth/refresh", chain(deps.AuthHandler.Refresh, limit))
	rt.handle(http.MethodGet, "/api/v1/auth", chain(deps.AuthHandler.Verify, authMid.Handle, limit))

	// Chat gate
	rt.handle(http.MethodPost, "/api/v1/workspace/:slug/chat",
		chain(deps.ChatHandler.Check, authMid.Handle, limit, wsMid.Handle))
	rt.handle(http.MethodPost, "/api/v1/workspace/:slug/stream-chat",
		chain(deps.ChatHandler.Check, authMid.Handle, limit, wsMid.Handle))

	// Usage
	rt.handle(http.MethodPost, "/api/v1/usage/events", chain(deps.UsageHandler.Ingest, authMid.Handle, limit))
	rt.handle(http.MethodGet, "/api/v1/usage/daily", chain(deps.UsageHandler.Daily, authMid.Handle, limit))

	// API key administration
	rt.handle(http.MethodGet, "/api/v1/admin/api-keys", chain(deps.APIKeyHandler.List, authMid.Admin, limit))
	rt.handle(http.MethodPost, "/api/v1/admin/api-keys", chain(deps.APIKeyHandler.Create, authMid.Admin, limit))
	rt.handle(http.MethodGet, "/api/v1/admin/api-keys/:id", chain(deps.APIKeyHandler.Get, authMid.Admin, limit))
	rt.handle(http.MethodPatch, "/api/v1/admin/api-keys/:id", chain(deps.APIKeyHandler.Update, authMid.Admin, limit))
	rt.handle(http.MethodDelete, "/api/v1/admin/api-keys/:id", chain(deps.APIKeyHandler.Delete, authMid.Admin, limit))
	rt.handle(http.MethodPost, "/api/v1/admin/api-keys/:id/revoke", chain(deps.APIKeyHandler.Revoke, authMid.Admin, limit))

	// Usage policy administration. /effective shares the :id segment, so it
	// is served by the Get route.
	rt.handle(http.MethodGet, "/api/v1/admin/usage-policies", chain(deps.PolicyHandler.List, authMid.Admin, limit))
	rt.handle(http.MethodPost, "/api/v1/admin/usage-policies", chain(deps.PolicyHandler.Create, authMid.Admin, limit))
	rt.handle(http.MethodGet, "/api/v1/admin/usage-policies/:id", chain(policyGet(deps.PolicyHandler), authMid.Admin, limit))
	rt.handle(http.MethodPatch, "/api/v1/admin/usage-policies/:id", chain(deps.PolicyHandler.Update, authMid.Admin, limit))
	rt.handle(http.MethodDelete, "/api/v1/admin/usage-policies/:id", chain(deps.PolicyHandler.Delete, authMid.Admin, limit))

	// Audit trail
	rt.handle(http.MethodGet, "/api/v1/admin/audit-logs", chain(deps.AuditHandler.List, authMid.Admin, limit))

	return middleware.RequestID(router)
}

type routes struct {
	*httprouter.Router
}

// handle registers h and records its latency under the route pattern.
func (r *routes) handle(method, path string, h httprouter.Handle) {
	r.Router.Handle(method, path, func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		metrics.Instrument(path, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			h(w, req, ps)
		})).ServeHTTP(w, req)
	})
}

// policyGet dispatches the literal "effective" segment to the preview.
func policyGet(h *handlers.PolicyHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
		if params.ByName("id") == "effective" {
			h.Effective(w, r)
			return
		}
		h.Get(w, r)
	}
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
