// Copyright 2026 © The Erpilot Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/erpilot-ai/erpilot/pkg/errors"
)

// PipelineMetrics tracks query throughput, cache effectiveness and failure
// patterns of the answer pipeline for production monitoring.
type PipelineMetrics struct {
	// queryCounter tracks processed queries by handler and outcome.
	queryCounter metric.Int64Counter

	// cacheCounter tracks cache lookups by result (hit/miss/bypass).
	cacheCounter metric.Int64Counter

	// degradedCounter tracks retrieval branches that failed but were absorbed.
	degradedCounter metric.Int64Counter

	// generationAttempts records attempts needed per successful generation.
	generationAttempts metric.Int64Histogram

	// errorCounter tracks errors by code and component.
	errorCounter metric.Int64Counter
}

// NewPipelineMetrics creates a pipeline metrics tracker with OTEL meters.
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter("erpilot/pipeline")

	queryCounter, err := meter.Int64Counter(
		"erpilot.queries.total",
		metric.WithDescription("Processed queries by handler and outcome"),
	)
	if err != nil {
		return nil, err
	}

	cacheCounter, err := meter.Int64Counter(
		"erpilot.cache.lookups",
		metric.WithDescription("Cache lookups by result"),
	)
	if err != nil {
		return nil, err
	}

	degradedCounter, err := meter.Int64Counter(
		"erpilot.retrieval.degraded",
		metric.WithDescription("Retrieval branches that failed and were absorbed"),
	)
	if err != nil {
		return nil, err
	}

	generationAttempts, err := meter.Int64Histogram(
		"erpilot.generation.attempts",
		metric.WithDescription("Attempts needed per generation call"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"erpilot.errors.total",
		metric.WithDescription("Total errors by code and component"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		queryCounter:       queryCounter,
		cacheCounter:       cacheCounter,
		degradedCounter:    degradedCounter,
		generationAttempts: generationAttempts,
		errorCounter:       errorCounter,
	}, nil
}

// RecordQuery counts one completed query for the given handler and outcome.
func (pm *PipelineMetrics) RecordQuery(ctx context.Context, handler, outcome string) {
	if pm == nil {
		return
	}
	pm.queryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("handler", handler),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordCacheLookup counts one cache lookup: result is hit, miss or bypass.
func (pm *PipelineMetrics) RecordCacheLookup(ctx context.Context, result string) {
	if pm == nil {
		return
	}
	pm.cacheCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordRetrievalDegraded counts a retrieval branch failure that was absorbed.
func (pm *PipelineMetrics) RecordRetrievalDegraded(ctx context.Context, branch string) {
	if pm == nil {
		return
	}
	pm.degradedCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("branch", branch)),
	)
}

// RecordGenerationAttempts records how many attempts a generation call took.
func (pm *PipelineMetrics) RecordGenerationAttempts(ctx context.Context, attempts int) {
	if pm == nil {
		return
	}
	pm.generationAttempts.Record(ctx, int64(attempts))
}

// RecordError increments the error counter for the given error and component.
func (pm *PipelineMetrics) RecordError(ctx context.Context, err error, component string) {
	if pm == nil || err == nil {
		return
	}
	if pe, ok := err.(*errors.PilotError); ok {
		pm.errorCounter.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("error.code", string(pe.Code)),
				attribute.String("component", component),
				attribute.String("recoverable", pe.RecoverableString()),
			),
		)
		return
	}
	pm.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error.code", "UNKNOWN"),
			attribute.String("component", component),
		),
	)
}
