package api

import (
	"context"
	"net/http"
	"time"

	models "TradeLoop/internal/domain/models"
	"TradeLoop/internal/service/metrics"
	"TradeLoop/internal/service/ratelimit"
	"TradeLoop/internal/usecase"
	xhttp "TradeLoop/pkg/http"
	xlogger "TradeLoop/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Decider produces and records decisions.
type Decider interface {
	Decide(ctx context.Context, req *models.DecisionRequest) (*models.Decision, error)
	Slots(symbol string) []*models.ModelSlot
}

// OutcomeRecorder accepts closed-trade feedback.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, o *models.TradeOutcome) (bool, error)
	Health(ctx context.Context) error
}

// HistoryTrainer stores uploaded history and trains from it.
type HistoryTrainer interface {
	Ingest(ctx context.Context, req *models.HistoryRequest) (*usecase.TrainResult, error)
}

// OrderPlacer executes recorded decisions.
type OrderPlacer interface {
	Execute(ctx context.Context, req *models.ExecuteRequest) (*models.OrderResult, error)
}

// CalibrationReader exposes calibration rows.
type CalibrationReader interface {
	Row(ctx context.Context, symbol, timeframe string) (*models.CalibrationRow, error)
}

// DecisionResponse is the wire shape of a decision.
type DecisionResponse struct {
	DecisionID        string                   `json:"decision_id"`
	Action            models.Action            `json:"action"`
	Confidence        float64                  `json:"confidence"`
	Reason            string                   `json:"reason"`
	StopLoss          *float64                 `json:"stop_loss,omitempty"`
	TakeProfit        *float64                 `json:"take_profit,omitempty"`
	ModelUsed         string                   `json:"model_used"`
	OriginatingScores models.OriginatingScores `json:"originating_scores"`
	Timestamp         string                   `json:"timestamp"`
}

func newDecisionResponse(d *models.Decision) DecisionResponse {
	return DecisionResponse{
		DecisionID:        d.ID,
		Action:            d.Action,
		Confidence:        d.Confidence,
		Reason:            d.Reason,
		StopLoss:          d.StopLoss,
		TakeProfit:        d.TakeProfit,
		ModelUsed:         d.ModelUsed,
		OriginatingScores: d.Scores,
		Timestamp:         d.Time().Format(time.RFC3339),
	}
}

// SlotView is the inspection shape of a loaded model slot.
type SlotView struct {
	Symbol        string             `json:"symbol"`
	Timeframe     string             `json:"timeframe"`
	Family        models.ModelFamily `json:"family"`
	Category      models.Category    `json:"category"`
	FeatureSchema []string           `json:"feature_schema"`
	Metrics       models.SlotMetrics `json:"metrics"`
}

// TradeLoopHandler serves the decision, feedback, history and order endpoints.
type TradeLoopHandler struct {
	logger      *xlogger.Logger
	decider     Decider
	feedback    OutcomeRecorder
	history     HistoryTrainer
	orders      OrderPlacer
	calibration CalibrationReader
	limiter     *ratelimit.Limiter
}

func NewTradeLoopHandler(
	logger *xlogger.Logger,
	decider Decider,
	feedback OutcomeRecorder,
	history HistoryTrainer,
	orders OrderPlacer,
	calibration CalibrationReader,
	limiter *ratelimit.Limiter,
) *TradeLoopHandler {
	metrics.Register()
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &TradeLoopHandler{
		logger:      logger,
		decider:     decider,
		feedback:    feedback,
		history:     history,
		orders:      orders,
		calibration: calibration,
		limiter:     limiter,
	}
}

func (h *TradeLoopHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.POST("/decision", h.Decision)
	g.POST("/feedback", h.Feedback)
	g.POST("/history", h.History)
	g.POST("/orders", h.Orders)
	g.GET("/models", h.Models)
	g.GET("/calibration", h.Calibration)
}

func (h *TradeLoopHandler) Decision(c echo.Context) error {
	defer observe("decision", time.Now())
	req := &models.DecisionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.limiter.Allow(req.Symbol) {
		metrics.RateLimited.WithLabelValues("decision").Inc()
		h.logger.Warn("decision rate limited", xlogger.String("symbol", req.Symbol))
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limited for "+req.Symbol))
	}

	d, err := h.decider.Decide(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "decision", err)
	}
	return c.JSON(http.StatusOK, newDecisionResponse(d))
}

func (h *TradeLoopHandler) Feedback(c echo.Context) error {
	defer observe("feedback", time.Now())
	req := &models.FeedbackRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	o := req.Outcome()
	inserted, err := h.feedback.RecordOutcome(c.Request().Context(), &o)
	if err != nil {
		return h.fail(c, "feedback", err)
	}
	if !inserted {
		h.logger.Debug("feedback already recorded", xlogger.String("decision_id", o.DecisionID))
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *TradeLoopHandler) History(c echo.Context) error {
	defer observe("history", time.Now())
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.history.Ingest(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "history", err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *TradeLoopHandler) Orders(c echo.Context) error {
	defer observe("orders", time.Now())
	if h.orders == nil {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError(xhttp.KindInternal, "", "broker is not configured", http.StatusServiceUnavailable))
	}
	req := &models.ExecuteRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.orders.Execute(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "orders", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *TradeLoopHandler) Models(c echo.Context) error {
	req := &models.ModelsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	slots := h.decider.Slots(req.Symbol)
	rows := make([]SlotView, 0, len(slots))
	for _, s := range slots {
		rows = append(rows, SlotView{
			Symbol:        s.Symbol,
			Timeframe:     s.Timeframe,
			Family:        s.Family,
			Category:      s.Category,
			FeatureSchema: s.FeatureSchema,
			Metrics:       s.Metrics,
		})
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *TradeLoopHandler) Calibration(c echo.Context) error {
	req := &models.CalibrationRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	row, err := h.calibration.Row(c.Request().Context(), req.Symbol, req.Timeframe)
	if err != nil {
		return h.fail(c, "calibration", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, row)
}

func (h *TradeLoopHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.feedback.Health(ctx); err != nil {
		h.logger.Warn("health check failed", xlogger.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *TradeLoopHandler) fail(c echo.Context, endpoint string, err error) error {
	ae := appError(err)
	metrics.EndpointErrors.WithLabelValues(endpoint, ae.Code).Inc()
	if ae.Status >= http.StatusInternalServerError {
		h.logger.Error(endpoint+" failed", xlogger.String("kind", ae.Code), xlogger.Error(err))
	} else {
		h.logger.Debug(endpoint+" refused", xlogger.String("kind", ae.Code), xlogger.Error(err))
	}
	return xhttp.AppErrorResponse(c, ae)
}

func observe(endpoint string, start time.Time) {
	metrics.EndpointLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

var _ xhttp.Handler = (*TradeLoopHandler)(nil)
