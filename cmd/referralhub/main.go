package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"referralhub/pkg/config"
	"referralhub/pkg/db"
	"referralhub/pkg/featureflags"
	"referralhub/pkg/gen"
	"referralhub/pkg/hashistack/secretmanager"
	"referralhub/pkg/hashistack/servicediscover"
	"referralhub/pkg/health"
	"referralhub/pkg/httpapi"
	"referralhub/pkg/logger"
	"referralhub/pkg/otelcol"
	"referralhub/pkg/profiling"
	"referralhub/pkg/redis"
	"referralhub/pkg/sequence"
	"referralhub/pkg/server"
	"referralhub/pkg/task"
	"referralhub/services/campaign"
	"referralhub/services/participant"
	"referralhub/services/referral"
	"referralhub/services/reward"
	"referralhub/services/wallet"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Select(),
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		task.Client,
		featureflags.Module,
		health.Module,
		httpapi.Module,
		campaign.Module,
		campaign.Routes,
		participant.Module,
		participant.Routes,
		reward.Module,
		reward.Routes,
		referral.Module,
		referral.Routes,
		wallet.Module,
		wallet.Routes,
		server.ProvideHTTPServer,
		servicediscover.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
