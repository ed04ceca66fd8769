/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the rule VM.
// Ported from an agent-framework sibling's StartToolCallSpan/
// StartLLMCallSpan pattern: a package-level tracer plus a span starter
// per suspension point named in §5 — operand evaluation, future-queue
// parking, action dispatch, and snapshot writes. Evaluation, action and
// snapshot spans have a matching End*Span; parking has only
// StartParkSpan, whose caller ends the span itself. Custom span
// attributes use the `rulevm.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "rulevm/vm"

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (noop provider is
// used). Returns a shutdown function that must be called on application
// exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("rulevm"),
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

// StartEvaluateSpan wraps one rule instance's run through the evaluator
// stack machine: operand store reads and duration-protocol fetches happen
// inside this span.
func StartEvaluateSpan(ctx context.Context, ruleID, instanceID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "rule.evaluate",
		trace.WithAttributes(
			attribute.String("rulevm.rule_id", ruleID),
			attribute.String("rulevm.instance_id", instanceID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndEvaluateSpan enriches the evaluate span with the fold result.
func EndEvaluateSpan(span trace.Span, result bool, err error) {
	span.SetAttributes(attribute.Bool("rulevm.result", result))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// StartParkSpan covers a future-queue timer delay: the interval between a
// rule instance being parked awaiting a future occurrence and it firing
// back onto the ready-queue.
func StartParkSpan(ctx context.Context, ruleID string, delay float64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "rule.park",
		trace.WithAttributes(
			attribute.String("rulevm.rule_id", ruleID),
			attribute.Float64("rulevm.delay_seconds", delay),
		),
	)
}

// StartActionSpan wraps one action's Perform call.
func StartActionSpan(ctx context.Context, ruleID, actionType string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "action.perform",
		trace.WithAttributes(
			attribute.String("rulevm.rule_id", ruleID),
			attribute.String("rulevm.action_type", actionType),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndActionSpan enriches the action span with its outcome.
func EndActionSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("rulevm.failed", true))
	}
	span.End()
}

// StartSnapshotSpan wraps a future-task-list snapshot write.
func StartSnapshotSpan(ctx context.Context, ruleCount int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "snapshot.write",
		trace.WithAttributes(
			attribute.Int("rulevm.awaiting_count", ruleCount),
		),
	)
}

// EndSnapshotSpan enriches the snapshot span with its outcome.
func EndSnapshotSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
