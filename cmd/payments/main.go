package main

import (
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"raketpay/internal/server"
	"raketpay/pkg/config"
	"raketpay/pkg/db"
	"raketpay/pkg/gen"
	"raketpay/pkg/health"
	"raketpay/pkg/logger"
	"raketpay/pkg/redis"
	"raketpay/pkg/sequence"
	"raketpay/pkg/task"
	"raketpay/services/dispute"
	"raketpay/services/payment"
	"raketpay/services/timeline"
	"raketpay/services/wallet"
	"raketpay/services/withdrawal"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		gen.Module,
		health.Module,
		fx.Provide(
			provideTracerProvider,
			provideMeterProvider,
			payment.NewNoopGateway,
		),
		fx.Invoke(
			db.Otel,
			db.Metric,
		),
		server.Module,
		timeline.Module,
		wallet.Module,
		payment.TaskModule,
		payment.Module,
		dispute.Module,
		withdrawal.Module,
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

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}
