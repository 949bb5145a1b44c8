// Package broker talks to the terminal bridge: an HTTP command/query API and
// a websocket feed of closed positions.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	xhttp "TradeLoop/pkg/http"
	applogger "TradeLoop/pkg/logger"
)

// GatewayOption configures HTTPGateway.
type GatewayOption func(*HTTPGateway)

// WithAttempts sets how often transient failures are retried.
func WithAttempts(n int) GatewayOption {
	return func(g *HTTPGateway) {
		if n > 0 {
			g.attempts = n
		}
	}
}

// WithSymbolInfoTTL sets how long symbol descriptions are cached.
func WithSymbolInfoTTL(d time.Duration) GatewayOption {
	return func(g *HTTPGateway) {
		if d > 0 {
			g.infoTTL = d
		}
	}
}

// WithLogger sets the gateway logger.
func WithLogger(l *applogger.Logger) GatewayOption {
	return func(g *HTTPGateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// HTTPGateway implements BrokerGateway against the bridge's JSON API.
type HTTPGateway struct {
	baseURL  string
	client   *xhttp.Client
	attempts int
	infoTTL  time.Duration
	logger   *applogger.Logger

	mu    sync.Mutex
	infos map[string]cachedInfo
}

type cachedInfo struct {
	info *models.SymbolInfo
	at   time.Time
}

var _ domrepo.BrokerGateway = (*HTTPGateway)(nil)

// NewHTTPGateway builds a gateway for baseURL with the given request timeout.
func NewHTTPGateway(baseURL string, timeout time.Duration, opts ...GatewayOption) *HTTPGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	g := &HTTPGateway{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   xhttp.NewClient(baseURL, timeout),
		attempts: 3,
		infoTTL:  10 * time.Minute,
		logger:   applogger.NewNop(),
		infos:    make(map[string]cachedInfo),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, query url.Values, body, dest interface{}) error {
	if g.baseURL == "" {
		return fmt.Errorf("broker gateway not configured")
	}
	return g.client.Do(ctx, method, path, query, body, dest)
}

// doWithRetry retries transport failures and 5xx answers with linear backoff.
// Rejections are returned immediately.
func (g *HTTPGateway) doWithRetry(ctx context.Context, method, path string, query url.Values, body, dest interface{}) error {
	var err error
	for i := 1; i <= g.attempts; i++ {
		err = g.do(ctx, method, path, query, body, dest)
		if err == nil || !retryable(err) {
			return err
		}
		if i == g.attempts {
			break
		}
		select {
		case <-time.After(time.Duration(i) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

// classify maps transport errors to domain kinds.
func classify(op string, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return models.NewError(models.KindTimeout, op, err)
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
		rej := &models.Rejection{Code: "rejected", Message: strings.TrimSpace(string(se.Body))}
		var body models.Rejection
		if json.Unmarshal(se.Body, &body) == nil && body.Code != "" {
			rej = &body
		}
		if rej.Code == models.RejectUnknownSymbol {
			return models.NewError(models.KindBadInput, op, rej)
		}
		return models.NewError(models.KindBrokerRejected, op, rej)
	}
	return models.NewError(models.KindInternal, op, err)
}

func (g *HTTPGateway) SymbolInfo(ctx context.Context, symbol string) (*models.SymbolInfo, error) {
	g.mu.Lock()
	if c, ok := g.infos[symbol]; ok && time.Since(c.at) < g.infoTTL {
		g.mu.Unlock()
		return c.info, nil
	}
	g.mu.Unlock()

	var info models.SymbolInfo
	if err := g.doWithRetry(ctx, xhttp.MethodGet, "/symbol_info", url.Values{"symbol": {symbol}}, nil, &info); err != nil {
		return nil, classify("symbol_info", err)
	}
	if info.Symbol == "" {
		info.Symbol = symbol
	}
	if info.Digits <= 0 {
		info.Digits = models.DefaultDigits
	}

	g.mu.Lock()
	g.infos[symbol] = cachedInfo{info: &info, at: time.Now()}
	g.mu.Unlock()
	return &info, nil
}

func (g *HTTPGateway) MarketTick(ctx context.Context, symbol string) (*models.Tick, error) {
	var raw struct {
		Bid  float64 `json:"bid"`
		Ask  float64 `json:"ask"`
		Time int64   `json:"time"`
	}
	if err := g.doWithRetry(ctx, xhttp.MethodGet, "/tick", url.Values{"symbol": {symbol}}, nil, &raw); err != nil {
		return nil, classify("market_tick", err)
	}
	return &models.Tick{Symbol: symbol, Bid: raw.Bid, Ask: raw.Ask, Time: time.Unix(raw.Time, 0).UTC()}, nil
}

// PlaceOrder sends one order. It is not retried on transport errors, since
// the bridge may have executed it.
func (g *HTTPGateway) PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.OrderResult, error) {
	var res models.OrderResult
	if err := g.do(ctx, xhttp.MethodPost, "/order", nil, req, &res); err != nil {
		g.logger.Warn("broker order failed",
			applogger.String("symbol", req.Symbol),
			applogger.String("side", string(req.Side)),
			applogger.Error(err))
		return nil, classify("place_order", err)
	}
	if res.Status == "" {
		res.Status = models.OrderStatusPlaced
	}
	return &res, nil
}

func (g *HTTPGateway) Health(ctx context.Context) error {
	if err := g.do(ctx, xhttp.MethodGet, "/health", nil, nil, nil); err != nil {
		return classify("health", err)
	}
	return nil
}
