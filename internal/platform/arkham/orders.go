package arkham

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

const (
	// DefaultOrderPath is the signed path of the order entry endpoint.
	DefaultOrderPath = "/orders/new"

	// DefaultOrderTimeout bounds a single order request.
	DefaultOrderTimeout = 5 * time.Second

	maxErrorBody = 4 << 10
)

// Signer produces authentication headers for a request.
type Signer interface {
	Headers(method, path, body string) http.Header
}

// OrderClient submits market orders over the signed REST API.
type OrderClient struct {
	baseURL    string
	path       string
	httpClient *http.Client
	auth       Signer
	timeout    time.Duration
	logger     *slog.Logger
	newID      func() string
}

// OrderOption configures an OrderClient.
type OrderOption func(*OrderClient)

// WithOrderPath overrides the order entry path.
func WithOrderPath(path string) OrderOption {
	return func(c *OrderClient) {
		if path != "" {
			c.path = path
		}
	}
}

// WithOrderTimeout overrides the per-request timeout.
func WithOrderTimeout(d time.Duration) OrderOption {
	return func(c *OrderClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) OrderOption {
	return func(c *OrderClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewOrderClient creates an OrderClient. baseURL is the REST root, e.g.
// "https://arkm.com/api"; the signed path is appended to it.
func NewOrderClient(baseURL string, auth Signer, logger *slog.Logger, opts ...OrderOption) *OrderClient {
	c := &OrderClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       DefaultOrderPath,
		httpClient: &http.Client{},
		auth:       auth,
		timeout:    DefaultOrderTimeout,
		logger:     logger.With(slog.String("component", "order_client")),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit places one market order. It never returns an error: rejections,
// transport failures and timeouts all yield Success=false.
func (c *OrderClient) Submit(ctx context.Context, req domain.OrderRequest) domain.OrderResult {
	res := domain.OrderResult{ClientOrderID: c.newID()}

	payload, err := json.Marshal(newMarketOrderBody(res.ClientOrderID, req))
	if err != nil {
		res.Message = err.Error()
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(payload))
	if err != nil {
		res.Message = err.Error()
		c.logger.Warn("order request build failed", slog.String("side", string(req.Side)), slog.String("error", err.Error()))
		return res
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range c.auth.Headers(http.MethodPost, c.path, string(payload)) {
		httpReq.Header[k] = v
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		res.Message = err.Error()
		c.logger.Warn("order submission failed",
			slog.String("side", string(req.Side)),
			slog.String("size", req.Size.StringFixed(5)),
			slog.String("client_order_id", res.ClientOrderID),
			slog.String("error", err.Error()),
		)
		return res
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode == http.StatusOK {
		res.Success = true
		return res
	}

	res.Message = strings.TrimSpace(string(body))
	c.logger.Warn("order rejected",
		slog.String("side", string(req.Side)),
		slog.String("size", req.Size.StringFixed(5)),
		slog.String("client_order_id", res.ClientOrderID),
		slog.Int("status", resp.StatusCode),
		slog.String("body", res.Message),
	)
	return res
}
