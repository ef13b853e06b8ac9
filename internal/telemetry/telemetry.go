package telemetry

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
	"pkt.systems/pslog"
)

// Setup installs an OTLP tracer provider when OTEL_EXPORTER_OTLP_ENDPOINT is
// set. Exporter failures disable tracing rather than the service.
func Setup(ctx context.Context, serviceName string, logger pslog.Logger) func(context.Context) error {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	noop := func(context.Context) error { return nil }

	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return noop
	}
	insecure := os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		logger.Warn("telemetry.exporter.error", "endpoint", endpoint, "error", err)
		return noop
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		logger.Warn("telemetry.resource.error", "error", err)
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)
	otel.SetErrorHandler(errorHandler{logger: logger})
	logger.Info("telemetry.tracing.enabled", "endpoint", endpoint, "insecure", insecure)

	return provider.Shutdown
}

type errorHandler struct {
	logger pslog.Logger
}

func (h errorHandler) Handle(err error) {
	if err == nil {
		return
	}
	h.logger.Warn("telemetry.error", "error", err)
}
