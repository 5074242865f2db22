package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/services"
)

func TestNewRouterProbesAndFallbacks(t *testing.T) {
	healthHandlers := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				Uptime:      5 * time.Second,
				GeneratedAt: testNow,
				Checks:      map[string]domain.SystemHealthCheck{"redis": {Status: domain.HealthStatusOK}},
			},
		}),
		WithHealthClock(func() time.Time { return testNow }),
	)
	router := NewRouter(WithHealthHandlers(healthHandlers))

	cases := []struct {
		method string
		target string
		status int
		code   string
	}{
		{method: http.MethodGet, target: "/healthz", status: http.StatusOK},
		{method: http.MethodGet, target: "/readyz", status: http.StatusOK},
		{method: http.MethodGet, target: "/api/v1/public/fx/rates", status: http.StatusNotImplemented, code: "not_implemented"},
		{method: http.MethodPost, target: "/api/v1/webhooks/payments/gateway", status: http.StatusNotImplemented, code: "not_implemented"},
		{method: http.MethodGet, target: "/api/v2/orders", status: http.StatusNotFound, code: "route_not_found"},
		{method: http.MethodPost, target: "/healthz", status: http.StatusMethodNotAllowed, code: "method_not_allowed"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.target, nil))
		if rr.Code != tc.status {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.target, tc.status, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("%s %s: expected json content type, got %q", tc.method, tc.target, ct)
		}
		if tc.code != "" {
			if got := errorCode(t, rr); got != tc.code {
				t.Fatalf("%s %s: expected error %s, got %s", tc.method, tc.target, tc.code, got)
			}
		}
	}
}

func TestNewRouterGroupMiddlewareIsScoped(t *testing.T) {
	tag := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Group", "webhooks")
			next.ServeHTTP(w, r)
		})
	}
	ok := func(r chi.Router) {
		r.HandleFunc("/*", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	}
	router := NewRouter(
		WithWebhookRoutes(ok),
		WithPublicRoutes(ok),
		WithWebhookMiddlewares(tag),
	)

	webhook := httptest.NewRecorder()
	router.ServeHTTP(webhook, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments/gateway", nil))
	if webhook.Code != http.StatusNoContent || webhook.Header().Get("X-Group") != "webhooks" {
		t.Fatalf("expected webhook middleware to run, got %d %v", webhook.Code, webhook.Header())
	}

	public := httptest.NewRecorder()
	router.ServeHTTP(public, httptest.NewRequest(http.MethodGet, "/api/v1/public/anything", nil))
	if public.Header().Get("X-Group") != "" {
		t.Fatalf("webhook middleware leaked into the public group")
	}
}

func TestNewRouterMountsOrderAndAdminGroups(t *testing.T) {
	orders := &stubOrderService{
		getFn: func(_ context.Context, id string, _ services.OrderReadOptions) (services.Order, error) {
			return sampleOrder(id), nil
		},
	}
	router := NewRouter(
		WithOrderRoutes(NewOrderHandlers(nil, orders).Routes),
		WithAdminRoutes(NewAdminOrderHandlers(nil, orders, nil, nil).Routes),
	)

	for _, target := range []string{"/api/v1/orders/ord_1", "/api/v1/admin/orders/ord_1"} {
		req := withIdentity(httptest.NewRequest(http.MethodGet, target, nil), "admin-1", "admin")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d (%s)", target, rr.Code, rr.Body.String())
		}
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/payments/confirm", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected unregistered payments group to answer 501, got %d", rr.Code)
	}
}
