//go:build wireinject
// +build wireinject

package di

import (
	"TradeLoop/pkg/config"
	"TradeLoop/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvidePostgresPool,
		ProvideRedisCache,
		ProvideCache,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideCalibrationQueue,

		// Repositories
		ProvideJournal,
		ProvideCandleStore,
		ProvideSpillJournal,
		ProvideModelStore,
		ProvideCalibrationStore,
		ProvidePublisher,

		// Broker bridge
		ProvideBrokerGateway,
		ProvideBrokerStream,

		// Use cases
		ProvideRegistry,
		ProvideCalibrator,
		ProvideFeedbackRecorder,
		ProvideTrainer,
		ProvideFusionEngine,
		ProvideDecisionService,
		ProvideHistoryIngest,
		ProvideOrderExecutor,
		ProvideCollector,
		ProvidePositionClosedHandler,

		// Transport and scheduling
		ProvideHandler,
		ProvideHTTPServer,
		ProvideCron,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
