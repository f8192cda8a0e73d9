package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"referralhub/pkg/config"
	"referralhub/pkg/db"
	"referralhub/pkg/gen"
	"referralhub/pkg/hashistack/secretmanager"
	"referralhub/pkg/logger"
	"referralhub/pkg/otelcol"
	"referralhub/pkg/redis"
	"referralhub/pkg/task"
	"referralhub/services/campaign"
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
		db.Module,
		redis.Module,
		gen.Module,
		task.Client,
		task.Server,
		campaign.Module,
		reward.Module,
		reward.TaskModule,
		referral.TaskModule,
		wallet.Module,
		wallet.AuditModule,
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
