package metrics

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.uber.org/fx"
)

// NewProvider builds an OTLP meter provider and registers it globally. When
// the exporter is disabled a provider without readers is returned so meters
// still resolve.
func NewProvider(lc fx.Lifecycle, cfg Config) (*metric.MeterProvider, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("deployment.environment", cfg.Environment),
	)

	opts := []metric.Option{metric.WithResource(res)}

	if cfg.Enabled {
		reader, err := newReader(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, metric.WithReader(reader))
	}

	provider := metric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

func newReader(cfg Config) (metric.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.ExporterProtocol)) {
	case "http", "http/protobuf":
		exporter, err := otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(cfg.ExporterEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, err
		}
		return metric.NewPeriodicReader(exporter, metric.WithInterval(30*time.Second)), nil
	default:
		exporter, err := otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(cfg.ExporterEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, err
		}
		return metric.NewPeriodicReader(exporter, metric.WithInterval(30*time.Second)), nil
	}
}
