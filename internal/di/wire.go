//go:build wireinject
// +build wireinject

package di

import (
	domrepo "ESStats/internal/domain/repository"
	"ESStats/internal/usecase"
	"ESStats/pkg/config"
	"ESStats/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up the serve-mode application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure
		ProvideLogger,
		ProvideStore,
		ProvideAuditPublisher,
		ProvideCache,

		// Use cases
		ProvideAnalyzer,

		// HTTP surface
		ProvideHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}

// InitializeImporter wires up the CSV import pipeline for CLI runs.
func InitializeImporter(cfg *config.Config) (*usecase.Importer, error) {
	wire.Build(
		ProvideLogger,
		ProvideStore,
		ProvideAuditPublisher,
		ProvideMetrics,
		ProvideCache,
		ProvideSessions,
		ProvideImporter,
	)
	return &usecase.Importer{}, nil
}

// InitializeStore wires up just the configured store, for schema setup.
func InitializeStore(cfg *config.Config) (domrepo.Store, error) {
	wire.Build(ProvideStore)
	return nil, nil
}
