package middleware

import (
	"strconv"
	"time"

	applogger "TradeLoop/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeloop_http_requests_total",
		Help: "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})
	requestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradeloop_http_request_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"route", "method"})
	inFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradeloop_http_in_flight",
		Help: "Requests being served.",
	})
)

// Observe counts and times every request under its route template and logs
// it: 5xx as errors, requests slower than slow as warnings, the rest at debug.
func Observe(l *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	if l == nil {
		l = applogger.NewNop()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			inFlight.Inc()
			start := time.Now()

			err := next(c)
			if err != nil {
				// Let echo write the response so the status below is final.
				c.Error(err)
			}
			inFlight.Dec()

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			code := c.Response().Status
			took := time.Since(start)
			requestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
			requestSeconds.WithLabelValues(route, method).Observe(took.Seconds())

			fields := []applogger.Field{
				applogger.String("method", method),
				applogger.String("route", route),
				applogger.Int("status", code),
				applogger.Duration("took", took),
				applogger.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			}
			switch {
			case code >= 500:
				l.Error("http request failed", fields...)
			case slow > 0 && took >= slow:
				l.Warn("http request slow", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
