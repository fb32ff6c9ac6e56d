// Copyright 2026 © The Erpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration for the query pipeline.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for Erpilot pipeline telemetry.
// These follow OpenTelemetry naming conventions where applicable.
const (
	// Query attributes
	AttrQueryID      = "erpilot.query.id"
	AttrQueryRole    = "erpilot.query.role"
	AttrQueryHandler = "erpilot.query.handler"
	AttrQueryCached  = "erpilot.query.cached"
	AttrQueryHasImage = "erpilot.query.has_image"

	// Retrieval attributes
	AttrRetrievalK          = "erpilot.retrieval.k"
	AttrRetrievalCandidates = "erpilot.retrieval.candidates"
	AttrRetrievalDegraded   = "erpilot.retrieval.degraded"

	// Capability attributes
	AttrToolName       = "erpilot.tool.name"
	AttrToolRole       = "erpilot.tool.role"
	AttrToolDurationMs = "erpilot.tool.duration_ms"
	AttrToolStatus     = "erpilot.tool.status"

	// LLM attributes (extending standard gen_ai conventions)
	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"

	// Error attributes
	AttrErrorCode        = "erpilot.error.code"
	AttrErrorRecoverable = "erpilot.error.recoverable"
)

// QueryAttrs builds the standard attribute set for a query span.
func QueryAttrs(queryID, role, handler string, cached bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrQueryID, queryID),
		attribute.String(AttrQueryRole, role),
		attribute.String(AttrQueryHandler, handler),
		attribute.Bool(AttrQueryCached, cached),
	}
}

// ToolAttrs builds the standard attribute set for a capability span.
func ToolAttrs(name, role, status string, durationMs int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.String(AttrToolRole, role),
		attribute.String(AttrToolStatus, status),
		attribute.Int64(AttrToolDurationMs, durationMs),
	}
}
