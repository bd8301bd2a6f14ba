// Package telemetry wires OpenTelemetry traces and metrics for the session
// lifecycle, image provisioning and execution streams. Exporters are OTLP
// over HTTP and are configured through the standard OTEL_* environment
// variables. When telemetry is disabled every instrument is a no-op.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/p-arndt/compilerz/internal/config"
)

const scopeName = "github.com/p-arndt/compilerz"

type Instruments struct {
	Tracer trace.Tracer

	SessionsCreated   metric.Int64Counter
	SessionsStopped   metric.Int64Counter
	SessionsActive    metric.Int64UpDownCounter
	ProvisionDuration metric.Float64Histogram
	RunsStarted       metric.Int64Counter
	RunsFinished      metric.Int64Counter
	OutputBytes       metric.Int64Counter
}

// Init builds the instruments for cfg. The returned shutdown flushes and
// stops the exporters and must be called on exit.
func Init(ctx context.Context, cfg config.Telemetry) (*Instruments, func(context.Context) error, error) {
	if !cfg.Enabled {
		return Noop(), func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := NewInstruments(mp, tp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
		)
	}
	return inst, shutdown, nil
}

// Noop returns instruments that record nothing.
func Noop() *Instruments {
	inst, err := NewInstruments(metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider())
	if err != nil {
		panic(err) // noop providers never fail
	}
	return inst
}

func NewInstruments(mp metric.MeterProvider, tp trace.TracerProvider) (*Instruments, error) {
	meter := mp.Meter(scopeName)

	created, err := meter.Int64Counter("sessions.created",
		metric.WithDescription("Sessions created"),
		metric.WithUnit("{session}"))
	if err != nil {
		return nil, err
	}

	stopped, err := meter.Int64Counter("sessions.stopped",
		metric.WithDescription("Sessions stopped"),
		metric.WithUnit("{session}"))
	if err != nil {
		return nil, err
	}

	active, err := meter.Int64UpDownCounter("sessions.active",
		metric.WithDescription("Sessions currently registered"),
		metric.WithUnit("{session}"))
	if err != nil {
		return nil, err
	}

	provision, err := meter.Float64Histogram("provision.duration",
		metric.WithDescription("Runtime image acquisition duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	runsStarted, err := meter.Int64Counter("runs.started",
		metric.WithDescription("Execution streams started"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}

	runsFinished, err := meter.Int64Counter("runs.finished",
		metric.WithDescription("Execution streams that reached a terminal state"),
		metric.WithUnit("{run}"))
	if err != nil {
		return nil, err
	}

	outputBytes, err := meter.Int64Counter("runs.output",
		metric.WithDescription("Terminal output relayed to clients"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:            tp.Tracer(scopeName),
		SessionsCreated:   created,
		SessionsStopped:   stopped,
		SessionsActive:    active,
		ProvisionDuration: provision,
		RunsStarted:       runsStarted,
		RunsFinished:      runsFinished,
		OutputBytes:       outputBytes,
	}, nil
}
