//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"aigc-service/internal/biz"
	"aigc-service/internal/conf"
	"aigc-service/internal/data"
	"aigc-service/internal/genclient"
	"aigc-service/internal/paysign"
	"aigc-service/internal/scheduler"
	"aigc-service/internal/server"
	"aigc-service/internal/service"
	"aigc-service/internal/worker"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Bootstrap, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		server.ProviderSet,
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		genclient.NewClient,
		genclient.NewUploader,
		paysign.NewVerifier,
		worker.NewPool,
		scheduler.NewScheduler,
		newApp,
	))
}
