//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"trustcore"
)

// InitializeApp builds the App graph for cfg.
func InitializeApp(cfg trustcore.Config) (*App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
