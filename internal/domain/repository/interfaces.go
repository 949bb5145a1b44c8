package repository

import (
	"context"
	"errors"
	"time"

	"TradeLoop/internal/domain/models"
)

// ErrNotFound is returned by lookups that miss.
var ErrNotFound = errors.New("not found")

// ModelStore maps (symbol, timeframe) to the active model slot.
type ModelStore interface {
	Get(symbol, timeframe string) (*models.ModelSlot, bool)
	Put(ctx context.Context, slot *models.ModelSlot) error
	List() []models.SlotKey
	LoadFromDisk(ctx context.Context) (int, error)
}

// CalibrationStore persists calibration rows and processed-outcome markers.
type CalibrationStore interface {
	Get(ctx context.Context, symbol, timeframe string) (*models.CalibrationRow, error)
	Save(ctx context.Context, row *models.CalibrationRow) error
	MarkProcessed(ctx context.Context, decisionID string) (bool, error)
	List(ctx context.Context) ([]*models.CalibrationRow, error)
}

// Journal is the append-only decision/outcome log.
type Journal interface {
	Init(ctx context.Context) error
	AppendDecision(ctx context.Context, d *models.Decision) error
	// AppendOutcome reports false when an outcome for the decision already exists.
	AppendOutcome(ctx context.Context, o *models.TradeOutcome) (bool, error)
	GetDecision(ctx context.Context, id string) (*models.Decision, error)
	// Entries returns decisions for the key, most recent first, joined with outcomes.
	Entries(ctx context.Context, symbol, timeframe string, limit int) ([]models.JournalEntry, error)
	Health(ctx context.Context) error
	Close() error
}

// CandleStore keeps historical bars for labeling and feature building.
type CandleStore interface {
	StoreCandles(ctx context.Context, symbol string, tf Timeframe, candles []models.Candle) error
	GetLatestNCandles(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Candle, error)
	GetCandles(ctx context.Context, symbol string, from, to time.Time, tf Timeframe) ([]models.Candle, error)
}

// SamplePublisher fans labeled samples and decisions out to downstream consumers.
type SamplePublisher interface {
	PublishSample(ctx context.Context, symbol, timeframe string, s *models.TrainingSample) error
	PublishDecision(ctx context.Context, d *models.Decision) error
	Close() error
}

// BrokerGateway is the narrow command/query contract of the broker terminal.
type BrokerGateway interface {
	SymbolInfo(ctx context.Context, symbol string) (*models.SymbolInfo, error)
	MarketTick(ctx context.Context, symbol string) (*models.Tick, error)
	PlaceOrder(ctx context.Context, req *models.OrderRequest) (*models.OrderResult, error)
	Health(ctx context.Context) error
}

// BrokerStream delivers position_closed events from the broker.
type BrokerStream interface {
	Connect(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.PositionClosed, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

type Metrics interface {
	RecordDecision(symbol, timeframe, action, modelUsed string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordTraining(symbol, timeframe, family string, accuracy, f1 float64, samples int)
	RecordTrainingSkip(symbol, timeframe, reason string)
	RecordCalibration(symbol, timeframe string, driftFactor, winRate float64)
	RecordLastPrice(symbol string, price float64)
}
