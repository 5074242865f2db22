package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/storefront/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// Route groups mounted under the API prefix, in mount order.
const (
	GroupPublic   = "public"
	GroupOrders   = "orders"
	GroupPayments = "payments"
	GroupAdmin    = "admin"
	GroupWebhooks = "webhooks"
)

var groupOrder = []string{GroupPublic, GroupOrders, GroupPayments, GroupAdmin, GroupWebhooks}

type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

func (c *routerConfig) group(name string) *routeGroup {
	g, ok := c.groups[name]
	if !ok {
		g = &routeGroup{}
		c.groups[name] = g
	}
	return g
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// NewRouter builds the chi router: request id, real ip and timeout middleware first, then
// the configured middleware, health probes at the root and one sub-router per group under
// /api/v1. A group without a registrar answers 501 for every path.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
		groups: make(map[string]*routeGroup, len(groupOrder)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	health := cfg.health
	if health == nil {
		health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	useAll(r, cfg.middlewares)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, name := range groupOrder {
			g := cfg.group(name)
			api.Route("/"+name, func(sub chi.Router) {
				useAll(sub, g.middlewares)
				if g.registrar == nil {
					registerNotImplemented(sub, name)
					return
				}
				g.registrar(sub)
			})
		}
	})
	return r
}

func useAll(r chi.Router, mws []func(http.Handler) http.Handler) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

// WithMiddlewares appends global middleware, applied after the defaults.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithGroupRoutes sets the registrar for one of the Group* route groups.
func WithGroupRoutes(group string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.group(group).registrar = reg
	}
}

// WithGroupMiddlewares appends middleware that only wraps the named group.
func WithGroupMiddlewares(group string, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group(group)
		g.middlewares = append(g.middlewares, mw...)
	}
}

func WithPublicRoutes(reg RouteRegistrar) Option  { return WithGroupRoutes(GroupPublic, reg) }
func WithOrderRoutes(reg RouteRegistrar) Option   { return WithGroupRoutes(GroupOrders, reg) }
func WithPaymentRoutes(reg RouteRegistrar) Option { return WithGroupRoutes(GroupPayments, reg) }
func WithAdminRoutes(reg RouteRegistrar) Option   { return WithGroupRoutes(GroupAdmin, reg) }
func WithWebhookRoutes(reg RouteRegistrar) Option { return WithGroupRoutes(GroupWebhooks, reg) }

// WithWebhookMiddlewares wraps the webhook group, typically with a rate limiter.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return WithGroupMiddlewares(GroupWebhooks, mw...)
}

func registerNotImplemented(r chi.Router, name string) {
	unavailable := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" routes are not configured", http.StatusNotImplemented))
	}
	r.HandleFunc("/", unavailable)
	r.HandleFunc("/*", unavailable)
	r.NotFound(unavailable)
	r.MethodNotAllowed(unavailable)
}
