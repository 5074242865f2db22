package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

type fxRatesResponse struct {
	Base      string            `json:"base"`
	Rates     map[string]string `json:"rates"`
	FetchedAt string            `json:"fetchedAt"`
}

// PublicHandlers serves unauthenticated endpoints.
type PublicHandlers struct {
	fx       services.FXService
	cacheFor time.Duration
}

// NewPublicHandlers constructs PublicHandlers. cacheFor sets Cache-Control max-age on rate
// responses; zero disables the header.
func NewPublicHandlers(fx services.FXService, cacheFor time.Duration) *PublicHandlers {
	return &PublicHandlers{fx: fx, cacheFor: cacheFor}
}

// Routes registers the /public endpoints.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/fx/rates", h.fxRates)
}

func (h *PublicHandlers) fxRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fx == nil {
		writeUnavailable(ctx, w, "fx")
		return
	}
	view, err := h.fx.Rates(ctx, r.URL.Query().Get("base"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if h.cacheFor > 0 {
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(h.cacheFor.Seconds())))
	}
	httpx.WriteJSON(w, http.StatusOK, fxRatesResponse{Base: view.Base, Rates: view.Rates, FetchedAt: formatTime(view.FetchedAt)})
}
