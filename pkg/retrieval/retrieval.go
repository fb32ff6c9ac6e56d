// Copyright 2026 © The Erpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package retrieval fans a question out to the vector store and the
// knowledge graph, merges the evidence and absorbs branch failures so the
// pipeline can keep answering on partial context.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/erpilot-ai/erpilot/pkg/core"
	"github.com/erpilot-ai/erpilot/pkg/rbac"
	"github.com/erpilot-ai/erpilot/pkg/resilience"
	"github.com/erpilot-ai/erpilot/pkg/telemetry"
)

// Capability names the authorization policy grants per retrieval branch.
const (
	CapVectorSearch = "vector_search"
	CapGraphLookup  = "graph_erp_lookup"
)

// Authorizer decides whether a role may use a retrieval branch. Satisfied
// by *rbac.Table.
type Authorizer interface {
	IsAuthorized(role, capability string) rbac.Decision
}

// VectorSearcher retrieves role-filtered documents by semantic similarity.
type VectorSearcher interface {
	Search(ctx context.Context, question, role string, k int) ([]core.SourceDocument, error)
}

// GraphExecutor answers entity and relationship questions from the
// knowledge graph, scoped to the caller's role.
type GraphExecutor interface {
	Lookup(ctx context.Context, question, role, actorID string) ([]core.SourceDocument, error)
}

// Config tunes the retrieval engine.
type Config struct {
	// K is the per-branch result count.
	K int
	// MaxCandidates caps the merged candidate list.
	MaxCandidates int
	// GraphTimeout bounds the graph branch; the vector branch runs under
	// the caller's context.
	GraphTimeout time.Duration
}

// Engine merges vector and graph retrieval.
type Engine struct {
	vector  VectorSearcher
	graph   GraphExecutor
	auth    Authorizer
	cfg     Config
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
	metrics *telemetry.PipelineMetrics
}

// NewEngine creates a retrieval engine. Either backend may be nil; a nil
// branch contributes no candidates. Each branch runs only when the
// authorizer grants its capability to the caller's role; a nil authorizer
// disables gating.
func NewEngine(vector VectorSearcher, graph GraphExecutor, auth Authorizer, cfg Config, logger *slog.Logger, metrics *telemetry.PipelineMetrics) *Engine {
	if cfg.K <= 0 {
		cfg.K = 10
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 2 * cfg.K
	}
	if cfg.GraphTimeout <= 0 {
		cfg.GraphTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		vector: vector,
		graph:  graph,
		auth:   auth,
		cfg:    cfg,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "graph_lookup",
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
		}),
		logger:  logger,
		metrics: metrics,
	}
}

type branchResult struct {
	branch string
	docs   []core.SourceDocument
	err    error
}

// Retrieve runs both branches concurrently and returns the merged,
// deduplicated candidate list. A failed branch degrades to zero candidates;
// Retrieve itself never fails.
func (e *Engine) Retrieve(ctx context.Context, q core.Query) []core.SourceDocument {
	results := make(chan branchResult, 2)
	branches := 0

	if e.vector != nil && e.allowed(ctx, q.Role, CapVectorSearch) {
		branches++
		go func() {
			docs, err := e.vector.Search(ctx, q.Question, q.Role, e.cfg.K)
			results <- branchResult{branch: "vector", docs: docs, err: err}
		}()
	}

	if e.graph != nil && e.allowed(ctx, q.Role, CapGraphLookup) {
		branches++
		go func() {
			// Buffered so a lookup that finishes after the deadline does not
			// block or race with the merge below.
			docsCh := make(chan []core.SourceDocument, 1)
			err := resilience.WithTimeout(ctx, e.cfg.GraphTimeout, func(gctx context.Context) error {
				return e.breaker.Call(gctx, func() error {
					docs, lookupErr := e.graph.Lookup(gctx, q.Question, q.Role, q.ActorID)
					if lookupErr != nil {
						return lookupErr
					}
					docsCh <- docs
					return nil
				})
			})
			var docs []core.SourceDocument
			if err == nil {
				docs = <-docsCh
			}
			results <- branchResult{branch: "graph", docs: docs, err: err}
		}()
	}

	byBranch := map[string][]core.SourceDocument{}
	for i := 0; i < branches; i++ {
		r := <-results
		if r.err != nil {
			e.logger.WarnContext(ctx, "retrieval branch degraded",
				"branch", r.branch, "error", r.err)
			e.metrics.RecordRetrievalDegraded(ctx, r.branch)
			continue
		}
		byBranch[r.branch] = r.docs
	}

	// Merge order is fixed (vector first) so identical inputs produce an
	// identical candidate list regardless of branch completion order.
	merged := append(byBranch["vector"], byBranch["graph"]...)
	return dedup(merged, e.cfg.MaxCandidates)
}

// allowed checks the policy before a branch runs. A denied branch is
// skipped, not degraded: the role simply has no access to that evidence.
func (e *Engine) allowed(ctx context.Context, role, capability string) bool {
	if e.auth == nil {
		return true
	}
	decision := e.auth.IsAuthorized(role, capability)
	if !decision.Allowed {
		e.logger.DebugContext(ctx, "retrieval branch not authorized",
			"capability", capability, "role", decision.Role)
	}
	return decision.Allowed
}

// dedup drops candidates with identical content, first occurrence wins,
// and caps the list.
func dedup(docs []core.SourceDocument, max int) []core.SourceDocument {
	seen := make(map[string]bool, len(docs))
	out := make([]core.SourceDocument, 0, len(docs))
	for _, d := range docs {
		key := contentKey(d.Content)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
		if len(out) == max {
			break
		}
	}
	return out
}

func contentKey(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
