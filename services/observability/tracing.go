// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Trace exporter names accepted by TracingConfig.Exporter.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// ErrUnknownExporter is returned for an unrecognised exporter name.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// TracingConfig selects and configures the span exporter.
type TracingConfig struct {
	// Exporter is "otlp", "stdout", or "none". Empty means "none".
	Exporter string `yaml:"exporter"`

	// OTLPEndpoint is the collector's gRPC address, e.g. "localhost:4317".
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// OTLPInsecure disables TLS to the collector.
	OTLPInsecure bool `yaml:"otlp_insecure"`

	// ServiceName is reported as service.name.
	ServiceName string `yaml:"service_name"`

	// Environment is reported as deployment.environment.
	Environment string `yaml:"environment"`

	// SampleRatio in [0,1]. Zero means sample everything.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DefaultTracingConfig disables export.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Exporter:     ExporterNone,
		OTLPEndpoint: "localhost:4317",
		OTLPInsecure: true,
		ServiceName:  "careos",
		Environment:  "development",
	}
}

// InitTracing installs a global TracerProvider and W3C propagator.
//
// # Description
//
// With exporter "none" no provider is installed and the otel no-op tracer
// stays in effect; the returned shutdown is still safe to call. The tracers
// used by the services ("careos.deviation", "careos.alerts",
// "careos.insights") and the otelgin middleware pick the provider up from
// the otel globals.
//
// # Outputs
//
//   - shutdown: Flushes and stops the exporter. Must be called on exit.
//   - error: ErrUnknownExporter or an exporter construction failure.
func InitTracing(ctx context.Context, cfg TracingConfig) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	var exporter sdktrace.SpanExporter
	closeConn := func() error { return nil }
	switch cfg.Exporter {
	case "", ExporterNone:
		return noop, nil
	case ExporterOTLP:
		creds := credentials.NewClientTLSFromCert(nil, "")
		if cfg.OTLPInsecure {
			creds = insecure.NewCredentials()
		}
		conn, dialErr := grpc.NewClient(cfg.OTLPEndpoint,
			grpc.WithTransportCredentials(creds),
			grpc.WithUserAgent("careos"))
		if dialErr != nil {
			return noop, fmt.Errorf("dial otlp collector: %w", dialErr)
		}
		closeConn = conn.Close
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	case ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return noop, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Exporter)
	}
	if err != nil {
		_ = closeConn()
		return noop, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "careos"
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(name),
		attribute.String("deployment.environment", cfg.Environment),
	)

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), closeConn())
	}, nil
}
