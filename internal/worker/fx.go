package worker

import (
	"context"

	appconfig "github.com/classpoint/invoicing/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("invoicing.worker",
	fx.Provide(provideConfig),
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

func provideConfig(cfg appconfig.Config) Config {
	return Config{
		BatchSize:     cfg.WorkerBatchSize,
		PollInterval:  cfg.WorkerPollInterval,
		RunTimeout:    cfg.WorkerRunTimeout,
		RecordTimeout: cfg.WorkerRecordTimeout,
	}.withDefaults()
}

func runWorker(lc fx.Lifecycle, worker *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go worker.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
