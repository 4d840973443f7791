//go:build wireinject
// +build wireinject

package main

import (
	"aigc-service/internal/biz"
	"aigc-service/internal/conf"
	"aigc-service/internal/data"
	"aigc-service/internal/paysign"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp 初始化应用
func wireApp(*conf.Bootstrap, log.Logger) (*CronApp, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		paysign.NewVerifier,
		wire.Struct(new(CronApp), "*"),
	))
}
