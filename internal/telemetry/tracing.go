package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName — имя инструментирующей библиотеки для спанов движка.
const TracerName = "github.com/shaiso/stepflow"

// SetupTracing настраивает глобальный TracerProvider.
//
// Экспортер определяется переменной OTEL_TRACES_EXPORTER:
//   - "stdout" — спаны печатаются в stdout (для разработки)
//   - иначе — глобальный no-op provider, спаны не записываются
//
// Возвращает функцию завершения, сбрасывающую буферы экспортера.
func SetupTracing(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	if os.Getenv("OTEL_TRACES_EXPORTER") != "stdout" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// Tracer возвращает tracer движка из глобального провайдера.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
