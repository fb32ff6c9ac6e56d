// Copyright 2026 © The Erpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package rerank reorders retrieval candidates by relevance to the question.
// Reranking is an optimization: when the scorer is unavailable the original
// retrieval order is kept and the pipeline continues.
package rerank

import (
	"context"
	"log/slog"
	"sort"

	"github.com/erpilot-ai/erpilot/pkg/core"
	"github.com/erpilot-ai/erpilot/pkg/telemetry"
)

// Scorer assigns a relevance score to each candidate for the question.
// It must return exactly one score per candidate, in input order.
type Scorer interface {
	Score(ctx context.Context, question string, candidates []core.SourceDocument) ([]float64, error)
}

// Reranker reorders candidates by relevance. It never adds or drops
// candidates: the output is a permutation of the input, and any top-K cut
// is the caller's decision.
type Reranker struct {
	scorer  Scorer
	logger  *slog.Logger
	metrics *telemetry.PipelineMetrics
}

// New creates a reranker. A nil scorer means passthrough.
func New(scorer Scorer, logger *slog.Logger, metrics *telemetry.PipelineMetrics) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{scorer: scorer, logger: logger, metrics: metrics}
}

// Rerank returns the candidates reordered by score, highest first. A scorer
// failure or a malformed score vector falls back to the input order.
func (r *Reranker) Rerank(ctx context.Context, question string, candidates []core.SourceDocument) []core.SourceDocument {
	if len(candidates) == 0 || r.scorer == nil {
		return candidates
	}

	scores, err := r.scorer.Score(ctx, question, candidates)
	if err != nil || len(scores) != len(candidates) {
		r.logger.WarnContext(ctx, "reranker unavailable, keeping retrieval order",
			"error", err, "scores", len(scores), "candidates", len(candidates))
		r.metrics.RecordError(ctx, err, "rerank")
		return candidates
	}

	ranked := make([]core.SourceDocument, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		ranked[i].Score = scores[i]
	}

	// Stable sort keeps retrieval order for tied scores.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	return ranked
}
