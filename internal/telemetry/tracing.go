/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for session management.
//
// Custom span attributes use the `tabops.` prefix:
//   - tabops.site: the site content URL
//   - tabops.principal: the impersonated username
//   - tabops.session_kind: bootstrap, master or user
//   - tabops.attempts: sign-in attempts made, retries included
//   - tabops.cache_hit: whether a cached session was reused
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/marcus-qen/tabops/tokens"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("tabops"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartSwitchSpan creates the parent span for switching a connection to an identity.
// An empty principal means the site's master session.
func StartSwitchSpan(ctx context.Context, site, principal string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "session.switch",
		trace.WithAttributes(
			attribute.String("tabops.site", site),
			attribute.String("tabops.principal", principal),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSwitchSpan records whether the switch reused a cached session.
func EndSwitchSpan(span trace.Span, cacheHit bool, err error) {
	span.SetAttributes(attribute.Bool("tabops.cache_hit", cacheHit))
	endWithError(span, err)
}

// StartSignInSpan creates a child span for establishing a session.
func StartSignInSpan(ctx context.Context, kind, site, principal string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "session.sign_in",
		trace.WithAttributes(
			attribute.String("tabops.session_kind", kind),
			attribute.String("tabops.site", site),
			attribute.String("tabops.principal", principal),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSignInSpan enriches the sign-in span with the attempt count.
func EndSignInSpan(span trace.Span, attempts int, err error) {
	span.SetAttributes(attribute.Int("tabops.attempts", attempts))
	endWithError(span, err)
}

func endWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
