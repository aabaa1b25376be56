//go:build wireinject
// +build wireinject

package di

import (
	"SignalCast/pkg/config"
	"SignalCast/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Metrics
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideClickHouseClient,
		ProvideLogger,

		// Stores
		ProvideSignalStore,
		ProvideCredentialStore,
		ProvideInstrumentStore,
		ProvideOutcomeStore,
		ProvideAuditLogger,

		// Broker and instrument resolution
		ProvideBroker,
		ProvideInstrumentCache,
		ProvideResolver,

		// Token lifecycle
		ProvideValidator,
		ProvideTokenManager,
		ProvideSweeper,

		// Engine
		ProvideJournal,
		ProvideExecutor,
		ProvideQueue,

		// HTTP surface
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
