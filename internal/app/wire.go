//go:build wireinject

package app

import (
	"github.com/nongomacoders/stock-analysis-sub001/internal/config"

	"github.com/google/wire"
)

var providerSet = wire.NewSet(
	provideBarStore,
	provideSource,
	provideLoader,
	provideRegistry,
	provideRunner,
	provideResultStore,
	provideSweepStore,
	provideNotifier,
	provideService,
	provideHTTPServer,
	newApp,
)

func InitializeApp(path ConfigPath, cfg *config.Config) (*App, func(), error) {
	wire.Build(providerSet)
	return nil, nil, nil
}
