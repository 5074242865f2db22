package fxrates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/storefront/api/internal/domain"
)

const (
	defaultEndpoint = "https://open.er-api.com/v6/latest"
	defaultTimeout  = 5 * time.Second
	maxResponseSize = 1 << 20
)

// ErrUpstream wraps failures returned by the rate provider.
var ErrUpstream = errors.New("fxrates: upstream failure")

// Client fetches the latest exchange rates for a base currency from a JSON endpoint
// shaped like open.er-api.com: {"result":"success","base_code":"USD","rates":{"EUR":0.92}}.
type Client struct {
	endpoint string
	http     *http.Client
	now      func() time.Time
}

// NewClient builds a client. An empty endpoint uses the public default.
func NewClient(endpoint string, timeout time.Duration, httpClient *http.Client) *Client {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{endpoint: endpoint, http: httpClient, now: time.Now}
}

type latestResponse struct {
	Result     string             `json:"result"`
	BaseCode   string             `json:"base_code"`
	Rates      map[string]float64 `json:"rates"`
	ErrorType  string             `json:"error-type"`
	LastUpdate int64              `json:"time_last_update_unix"`
}

// Latest returns the rates quoted against base.
func (c *Client) Latest(ctx context.Context, base string) (domain.FXRates, error) {
	target := c.endpoint + "/" + url.PathEscape(strings.ToUpper(base))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.FXRates{}, fmt.Errorf("fxrates: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.FXRates{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.FXRates{}, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var payload latestResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&payload); err != nil {
		return domain.FXRates{}, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}
	if payload.Result != "" && payload.Result != "success" {
		return domain.FXRates{}, fmt.Errorf("%w: %s", ErrUpstream, payload.ErrorType)
	}
	if len(payload.Rates) == 0 {
		return domain.FXRates{}, fmt.Errorf("%w: empty rate table", ErrUpstream)
	}

	fetched := c.now().UTC()
	if payload.LastUpdate > 0 {
		fetched = time.Unix(payload.LastUpdate, 0).UTC()
	}
	code := strings.ToUpper(strings.TrimSpace(payload.BaseCode))
	if code == "" {
		code = strings.ToUpper(base)
	}
	return domain.FXRates{Base: code, Rates: payload.Rates, FetchedAt: fetched}, nil
}
