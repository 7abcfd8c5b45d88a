package main

import (
	"log"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"raketpay/pkg/config"
	"raketpay/pkg/db"
	"raketpay/pkg/gen"
	"raketpay/pkg/logger"
	"raketpay/pkg/redis"
	"raketpay/pkg/sequence"
	"raketpay/pkg/task"
	"raketpay/services/payment"
	"raketpay/services/wallet"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,
		sequence.Module,
		gen.Module,
		fx.Provide(
			wallet.NewService,
			wallet.NewScheduler,
		),
		wallet.TaskModule,
		payment.TaskModule,
		fx.Invoke(
			registerHandlers,
			wallet.StartScheduler,
		),
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

func registerHandlers(mux *asynq.ServeMux, walletTask *wallet.Task, paymentTask *payment.Task) {
	mux.HandleFunc(wallet.TypeMatureEarnings, walletTask.HandleMatureEarningsTask)
	mux.HandleFunc(payment.TypePaymentReleased, paymentTask.HandleReleasedTask)
}
