package usecase

import (
	"context"

	"TradeLoop/internal/domain/models"
	domrepo "TradeLoop/internal/domain/repository"
	applogger "TradeLoop/pkg/logger"
)

// DecisionLookup resolves recorded decisions by id.
type DecisionLookup interface {
	Decision(ctx context.Context, id string) (*models.Decision, error)
}

// OrderExecutor places recorded decisions through the broker gateway.
type OrderExecutor struct {
	gateway        domrepo.BrokerGateway
	decisions      DecisionLookup
	metrics        domrepo.Metrics
	logger         *applogger.Logger
	allowStopless  bool
	defaultComment string
}

func NewOrderExecutor(gateway domrepo.BrokerGateway, decisions DecisionLookup, metrics domrepo.Metrics, logger *applogger.Logger, allowStopless bool) *OrderExecutor {
	if logger == nil {
		logger = applogger.NewNop()
	}
	return &OrderExecutor{
		gateway:        gateway,
		decisions:      decisions,
		metrics:        metrics,
		logger:         logger,
		allowStopless:  allowStopless,
		defaultComment: "tradeloop",
	}
}

// Execute sends the decision's order. A broker answer that the position is
// already open counts as success. Stop rejections are retried once without
// stops when allowed.
func (e *OrderExecutor) Execute(ctx context.Context, req *models.ExecuteRequest) (*models.OrderResult, error) {
	if req == nil || req.DecisionID == "" {
		return nil, models.Errorf(models.KindBadInput, "decision_id is required")
	}
	if req.Volume <= 0 {
		return nil, models.Errorf(models.KindBadInput, "volume must be positive")
	}
	d, err := e.decisions.Decision(ctx, req.DecisionID)
	if err != nil {
		return nil, err
	}
	if d.Action != models.ActionBuy && d.Action != models.ActionSell {
		return nil, models.Errorf(models.KindBadInput, "decision %s is %s, nothing to execute", d.ID, d.Action)
	}

	comment := req.Comment
	if comment == "" {
		comment = e.defaultComment
	}
	order := &models.OrderRequest{
		Symbol:  d.Symbol,
		Side:    d.Action,
		Volume:  req.Volume,
		SL:      d.StopLoss,
		TP:      d.TakeProfit,
		Type:    models.OrderMarket,
		MagicID: req.MagicID,
		Comment: comment + ":" + d.ID,
	}

	res, err := e.gateway.PlaceOrder(ctx, order)
	if err == nil {
		return res, nil
	}
	rej, ok := models.AsRejection(err)
	switch {
	case ok && rej.Code == models.RejectPositionOpen:
		e.logger.Info("position already open, treating order as done",
			applogger.String("symbol", d.Symbol), applogger.String("decision_id", d.ID))
		return &models.OrderResult{Status: models.OrderStatusAlreadyOpen}, nil
	case ok && rej.Code == models.RejectInvalidStops && e.allowStopless && (order.SL != nil || order.TP != nil):
		e.logger.Warn("stops rejected, retrying without stops",
			applogger.String("symbol", d.Symbol), applogger.String("decision_id", d.ID), applogger.String("reason", rej.Message))
		zero := 0.0
		order.SL, order.TP = &zero, &zero
		res, err = e.gateway.PlaceOrder(ctx, order)
		if err == nil {
			res.Retried = true
			return res, nil
		}
		if r2, ok := models.AsRejection(err); ok && r2.Code == models.RejectPositionOpen {
			return &models.OrderResult{Status: models.OrderStatusAlreadyOpen, Retried: true}, nil
		}
	}
	if e.metrics != nil {
		e.metrics.RecordError(string(models.KindOf(err)))
	}
	return nil, err
}
