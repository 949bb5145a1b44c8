package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeLoop/internal/domain/models"
)

type scriptedGateway struct {
	errs   []error
	orders []models.OrderRequest
}

func (g *scriptedGateway) SymbolInfo(context.Context, string) (*models.SymbolInfo, error) {
	return &models.SymbolInfo{Digits: 5}, nil
}

func (g *scriptedGateway) MarketTick(context.Context, string) (*models.Tick, error) {
	return nil, errors.New("not used")
}

func (g *scriptedGateway) PlaceOrder(_ context.Context, req *models.OrderRequest) (*models.OrderResult, error) {
	g.orders = append(g.orders, *req)
	if n := len(g.orders) - 1; n < len(g.errs) && g.errs[n] != nil {
		return nil, g.errs[n]
	}
	return &models.OrderResult{OrderID: "42", Status: models.OrderStatusFilled}, nil
}

func (g *scriptedGateway) Health(context.Context) error { return nil }

type decisionMap map[string]*models.Decision

func (m decisionMap) Decision(_ context.Context, id string) (*models.Decision, error) {
	if d, ok := m[id]; ok {
		return d, nil
	}
	return nil, models.Errorf(models.KindBadInput, "unknown decision %s", id)
}

func rejection(code, msg string) error {
	return models.NewError(models.KindBrokerRejected, "place order", &models.Rejection{Code: code, Message: msg})
}

func buyDecision() decisionMap {
	sl, tp := 1.089, 1.166
	return decisionMap{"D1": {ID: "D1", Symbol: "EURUSD", Action: models.ActionBuy, StopLoss: &sl, TakeProfit: &tp}}
}

func TestExecutePlacesOrderWithStops(t *testing.T) {
	gw := &scriptedGateway{}
	ex := NewOrderExecutor(gw, buyDecision(), newRecordingMetrics(), nil, false)

	res, err := ex.Execute(context.Background(), &models.ExecuteRequest{DecisionID: "D1", Volume: 0.1})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, res.Status)
	require.Len(t, gw.orders, 1)
	o := gw.orders[0]
	assert.Equal(t, models.ActionBuy, o.Side)
	assert.Equal(t, models.OrderMarket, o.Type)
	assert.Equal(t, "tradeloop:D1", o.Comment)
	require.NotNil(t, o.SL)
	assert.InDelta(t, 1.089, *o.SL, 1e-9)
}

func TestExecutePositionAlreadyOpenIsSuccess(t *testing.T) {
	gw := &scriptedGateway{errs: []error{rejection(models.RejectPositionOpen, "")}}
	ex := NewOrderExecutor(gw, buyDecision(), newRecordingMetrics(), nil, false)

	res, err := ex.Execute(context.Background(), &models.ExecuteRequest{DecisionID: "D1", Volume: 0.1})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAlreadyOpen, res.Status)
	assert.Len(t, gw.orders, 1)
}

func TestExecuteRetriesWithoutStops(t *testing.T) {
	gw := &scriptedGateway{errs: []error{rejection(models.RejectInvalidStops, "sl too close")}}
	ex := NewOrderExecutor(gw, buyDecision(), newRecordingMetrics(), nil, true)

	res, err := ex.Execute(context.Background(), &models.ExecuteRequest{DecisionID: "D1", Volume: 0.1})
	require.NoError(t, err)
	assert.True(t, res.Retried)
	require.Len(t, gw.orders, 2)
	require.NotNil(t, gw.orders[1].SL)
	assert.Zero(t, *gw.orders[1].SL)
	assert.Zero(t, *gw.orders[1].TP)
}

func TestExecuteInvalidStopsWithoutRetry(t *testing.T) {
	m := newRecordingMetrics()
	gw := &scriptedGateway{errs: []error{rejection(models.RejectInvalidStops, "sl too close")}}
	ex := NewOrderExecutor(gw, buyDecision(), m, nil, false)

	_, err := ex.Execute(context.Background(), &models.ExecuteRequest{DecisionID: "D1", Volume: 0.1})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindBrokerRejected))
	rej, ok := models.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, models.RejectInvalidStops, rej.Code)
	assert.Len(t, gw.orders, 1)
	assert.Equal(t, []string{string(models.KindBrokerRejected)}, m.errors)
}

func TestExecuteRefusesHold(t *testing.T) {
	gw := &scriptedGateway{}
	ex := NewOrderExecutor(gw, decisionMap{"H": {ID: "H", Symbol: "EURUSD", Action: models.ActionHold}}, nil, nil, true)

	_, err := ex.Execute(context.Background(), &models.ExecuteRequest{DecisionID: "H", Volume: 1})
	assert.True(t, models.IsKind(err, models.KindBadInput))

	_, err = ex.Execute(context.Background(), &models.ExecuteRequest{DecisionID: "H"})
	assert.True(t, models.IsKind(err, models.KindBadInput))
	assert.Empty(t, gw.orders)
}
