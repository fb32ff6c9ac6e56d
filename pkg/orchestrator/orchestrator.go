// Copyright 2026 © The Erpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator runs the full answer pipeline: cache lookup, handler
// routing, retrieval, reranking, capability dispatch and generation. A
// query always comes back with a response; internal failures surface as an
// apology, never as a raw error or a crash.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/erpilot-ai/erpilot/pkg/audit"
	"github.com/erpilot-ai/erpilot/pkg/cache"
	"github.com/erpilot-ai/erpilot/pkg/core"
	"github.com/erpilot-ai/erpilot/pkg/generation"
	"github.com/erpilot-ai/erpilot/pkg/insights"
	"github.com/erpilot-ai/erpilot/pkg/llm"
	"github.com/erpilot-ai/erpilot/pkg/telemetry"
	"github.com/erpilot-ai/erpilot/pkg/tool"
)

const (
	apologyDenied  = "I'm sorry, but your role does not have permission to perform this action."
	apologyFailure = "I'm sorry, I couldn't complete your request right now. Please try again later."
)

// Retriever produces candidate documents for a query.
type Retriever interface {
	Retrieve(ctx context.Context, q core.Query) []core.SourceDocument
}

// Reranker reorders candidates by relevance.
type Reranker interface {
	Rerank(ctx context.Context, question string, docs []core.SourceDocument) []core.SourceDocument
}

// Generator produces answers and routing labels.
type Generator interface {
	Generate(ctx context.Context, question string, docs []core.SourceDocument) (*generation.Result, error)
	GenerateStream(ctx context.Context, question string, docs []core.SourceDocument) (<-chan llm.StreamChunk, error)
	Classify(ctx context.Context, prompt string) (string, error)
}

// Dispatcher executes capabilities under authorization.
type Dispatcher interface {
	AllowedFor(role string) []tool.Capability
	Execute(ctx context.Context, role, name string, args tool.Args) tool.Outcome
}

// ResponseCache reads and writes cached responses.
type ResponseCache interface {
	Get(ctx context.Context, q core.Query) *core.Response
	Set(ctx context.Context, q core.Query, resp *core.Response)
}

// Deps are the orchestrator's collaborators. Retriever, Reranker and
// Generator are required; the rest may be nil and their stages are skipped.
type Deps struct {
	Retriever  Retriever
	Reranker   Reranker
	Generator  Generator
	Dispatcher Dispatcher
	Insights   insights.Engine
	Images     llm.ImageAnalyzer
	Cache      ResponseCache
	Audit      audit.Store
	Logger     *slog.Logger
	Metrics    *telemetry.PipelineMetrics
}

// Options tune orchestrator behavior.
type Options struct {
	// SingleFlight coalesces concurrent identical queries.
	SingleFlight bool
	// TopK caps how many reranked documents reach generation. The reranker
	// itself only reorders; the cut happens here. Zero means 5.
	TopK int
}

// Orchestrator routes and executes queries.
type Orchestrator struct {
	deps   Deps
	opts   Options
	group  cache.Group
	tracer trace.Tracer
}

// New creates an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NopStore{}
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		tracer: otel.Tracer("erpilot/orchestrator"),
	}
}

// handlerOutcome is the result of one handler execution.
type handlerOutcome struct {
	answer    string
	docs      []core.SourceDocument
	cacheable bool
	status    string
}

// Answer processes a query end to end and always returns a response.
func (o *Orchestrator) Answer(ctx context.Context, q core.Query) *core.Response {
	ctx, qid := core.EnsureQueryID(ctx)
	q.ID = qid
	started := time.Now()

	if o.deps.Cache != nil {
		if cached := o.deps.Cache.Get(ctx, q); cached != nil {
			o.deps.Metrics.RecordQuery(ctx, cached.Handler, "cached")
			o.recordAudit(ctx, q, cached.Handler, "cached", "", started)
			return cached
		}
	}

	run := func() (*core.Response, error) {
		return o.process(ctx, q, started), nil
	}

	var resp *core.Response
	if o.opts.SingleFlight {
		resp, _, _ = o.group.Do(ctx, q, run)
	} else {
		resp, _ = run()
	}
	if resp == nil {
		// Only reachable if a coalesced leader panicked; answer politely
		// rather than propagate.
		resp = &core.Response{Answer: apologyFailure, Handler: HandlerFallback.String()}
	}
	return resp
}

func (o *Orchestrator) process(ctx context.Context, q core.Query, started time.Time) *core.Response {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.Answer")
	defer span.End()

	var steps []core.ThoughtStep
	step := func(action, input, observation string) {
		steps = append(steps, core.ThoughtStep{
			Action: action, Input: input, Observation: observation, At: time.Now(),
		})
	}

	handler := o.route(ctx, q, step)
	span.SetAttributes(telemetry.QueryAttrs(q.ID, q.Role, handler.String(), false)...)

	var out handlerOutcome
	switch handler {
	case HandlerKnowledge:
		out = o.runKnowledge(ctx, q, step)
	case HandlerLiveERP:
		out = o.runLiveERP(ctx, q, step)
	case HandlerBusinessIntelligence:
		out = o.runInsights(ctx, q, step)
	case HandlerMultimodal:
		out = o.runMultimodal(ctx, q, step)
	default:
		out = o.runFallback(ctx, q, step)
	}

	resp := &core.Response{
		Answer:          out.answer,
		SourceDocuments: out.docs,
		ThoughtProcess:  steps,
		Handler:         handler.String(),
	}

	if out.cacheable && o.deps.Cache != nil {
		o.deps.Cache.Set(ctx, q, resp)
	}

	o.deps.Metrics.RecordQuery(ctx, handler.String(), out.status)
	o.recordAudit(ctx, q, handler.String(), out.status, "", started)
	return resp
}

const routingPrompt = `Classify the following ERP user question into exactly one of these labels:
knowledge - questions answered from documentation, policies or the knowledge graph
live_erp - requests to read or change live ERP data (orders, stock, invoices, HR records)
business_intelligence - analytical questions about trends, comparisons or causes
fallback - anything else
Respond with only the label.

Question: %s`

// route picks the handler. An attached image deterministically selects the
// multimodal path without consulting the classifier.
func (o *Orchestrator) route(ctx context.Context, q core.Query, step func(action, input, observation string)) Handler {
	if q.HasImage() {
		step("route", "", "image attached, using multimodal handler")
		return HandlerMultimodal
	}

	label, err := o.deps.Generator.Classify(ctx, fmt.Sprintf(routingPrompt, q.Question))
	if err != nil {
		step("route", q.Question, "classification unavailable, using fallback handler")
		return HandlerFallback
	}

	h, ok := ParseHandler(label)
	if !ok {
		step("route", q.Question, fmt.Sprintf("classifier produced invalid label %q, using fallback handler", label))
		return HandlerFallback
	}
	if h == HandlerMultimodal {
		// The classifier cannot route to multimodal; only an image can.
		step("route", q.Question, "classifier chose multimodal without an image, using fallback handler")
		return HandlerFallback
	}
	step("route", q.Question, "classified as "+h.String())
	return h
}

func (o *Orchestrator) runKnowledge(ctx context.Context, q core.Query, step func(a, i, ob string)) handlerOutcome {
	docs := o.deps.Retriever.Retrieve(ctx, q)
	step("retrieve", q.Question, fmt.Sprintf("%d candidates", len(docs)))

	ranked := topK(o.deps.Reranker.Rerank(ctx, q.Question, docs), o.opts.TopK)
	step("rerank", "", fmt.Sprintf("%d documents selected", len(ranked)))

	result, err := o.deps.Generator.Generate(ctx, q.Question, ranked)
	if err != nil {
		o.deps.Logger.ErrorContext(ctx, "generation failed", "error", err)
		o.deps.Metrics.RecordError(ctx, err, "orchestrator")
		step("generate", "", "generation failed")
		return handlerOutcome{answer: apologyFailure, docs: ranked, status: "error"}
	}
	step("generate", "", fmt.Sprintf("answered in %d attempt(s)", result.Attempts))
	return handlerOutcome{answer: result.Text, docs: ranked, cacheable: true, status: "ok"}
}

const selectionPrompt = `You can call exactly one of the following ERP capabilities to answer the user's request.
%s
Respond with only a JSON object of the form {"capability": "<name>", "args": {...}}.

Request: %s`

var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

type capabilitySelection struct {
	Capability string         `json:"capability"`
	Args       map[string]any `json:"args"`
}

func (o *Orchestrator) runLiveERP(ctx context.Context, q core.Query, step func(a, i, ob string)) handlerOutcome {
	if o.deps.Dispatcher == nil {
		step("dispatch", "", "no capability dispatcher configured, using fallback handler")
		return o.runFallback(ctx, q, step)
	}

	allowed := o.deps.Dispatcher.AllowedFor(q.Role)
	if len(allowed) == 0 {
		step("dispatch", "", "role has no capabilities")
		return handlerOutcome{answer: apologyDenied, status: "denied"}
	}

	var menu strings.Builder
	for _, c := range allowed {
		fmt.Fprintf(&menu, "- %s: %s\n", c.Name, c.Description)
	}

	raw, err := o.deps.Generator.Classify(ctx, fmt.Sprintf(selectionPrompt, menu.String(), q.Question))
	if err != nil {
		step("select_capability", q.Question, "capability selection unavailable, using fallback handler")
		return o.runFallback(ctx, q, step)
	}

	sel, err := parseSelection(raw)
	if err != nil {
		step("select_capability", raw, "unparseable capability selection, using fallback handler")
		return o.runFallback(ctx, q, step)
	}
	step("select_capability", q.Question, "selected "+sel.Capability)

	outcome := o.deps.Dispatcher.Execute(ctx, q.Role, sel.Capability, tool.Args(sel.Args))
	o.recordAudit(ctx, q, HandlerLiveERP.String(), string(outcome.Status), sel.Capability, time.Now().Add(-outcome.Duration))

	switch outcome.Status {
	case tool.StatusDenied:
		step("dispatch", sel.Capability, "denied: "+outcome.Reason)
		return handlerOutcome{answer: apologyDenied, status: "denied"}
	case tool.StatusOK:
		resultJSON, _ := json.Marshal(outcome.Result)
		step("dispatch", sel.Capability, "ok")

		doc := core.SourceDocument{
			ID:      "erp-" + sel.Capability,
			Content: fmt.Sprintf("Result of %s: %s", sel.Capability, resultJSON),
			Origin:  "erp",
		}
		result, err := o.deps.Generator.Generate(ctx, q.Question, []core.SourceDocument{doc})
		if err != nil {
			step("generate", "", "generation failed")
			return handlerOutcome{answer: apologyFailure, docs: []core.SourceDocument{doc}, status: "error"}
		}
		step("generate", "", fmt.Sprintf("answered in %d attempt(s)", result.Attempts))
		// Answers backed by a mutating capability must not be replayed
		// from cache: the next identical request has to execute again.
		return handlerOutcome{answer: result.Text, docs: []core.SourceDocument{doc}, cacheable: outcome.Idempotent, status: "ok"}
	default:
		step("dispatch", sel.Capability, string(outcome.Status)+": "+outcome.Reason)
		return handlerOutcome{answer: apologyFailure, status: "error"}
	}
}

func topK(docs []core.SourceDocument, k int) []core.SourceDocument {
	if len(docs) <= k {
		return docs
	}
	return docs[:k]
}

func parseSelection(raw string) (*capabilitySelection, error) {
	payload := raw
	if m := jsonFenceRe.FindStringSubmatch(raw); m != nil {
		payload = m[1]
	}
	// The model may wrap the JSON in prose; cut to the outermost braces.
	if start := strings.IndexByte(payload, '{'); start >= 0 {
		if end := strings.LastIndexByte(payload, '}'); end > start {
			payload = payload[start : end+1]
		}
	}
	var sel capabilitySelection
	if err := json.Unmarshal([]byte(payload), &sel); err != nil {
		return nil, err
	}
	if sel.Capability == "" {
		return nil, fmt.Errorf("selection is missing the capability name")
	}
	return &sel, nil
}

func (o *Orchestrator) runInsights(ctx context.Context, q core.Query, step func(a, i, ob string)) handlerOutcome {
	if o.deps.Insights == nil {
		step("analyze", "", "no insights engine configured, using fallback handler")
		return o.runFallback(ctx, q, step)
	}
	analysis, err := o.deps.Insights.Analyze(ctx, q.Question, q.Role)
	if err != nil {
		o.deps.Metrics.RecordError(ctx, err, "insights")
		step("analyze", q.Question, "analysis failed")
		return handlerOutcome{answer: apologyFailure, status: "error"}
	}
	step("analyze", q.Question, "analysis produced")
	return handlerOutcome{answer: analysis, cacheable: true, status: "ok"}
}

func (o *Orchestrator) runMultimodal(ctx context.Context, q core.Query, step func(a, i, ob string)) handlerOutcome {
	if o.deps.Images == nil {
		step("analyze_image", "", "no image analyzer configured")
		return handlerOutcome{answer: apologyFailure, status: "error"}
	}
	description, err := o.deps.Images.AnalyzeImage(ctx, q.Question, q.ImageRef)
	if err != nil {
		o.deps.Metrics.RecordError(ctx, err, "multimodal")
		step("analyze_image", q.Question, "image analysis failed")
		return handlerOutcome{answer: apologyFailure, status: "error"}
	}
	step("analyze_image", q.Question, "image analyzed")

	doc := core.SourceDocument{ID: "image", Content: description, Origin: "image"}
	result, err := o.deps.Generator.Generate(ctx, q.Question, []core.SourceDocument{doc})
	if err != nil {
		step("generate", "", "generation failed")
		return handlerOutcome{answer: apologyFailure, docs: []core.SourceDocument{doc}, status: "error"}
	}
	step("generate", "", fmt.Sprintf("answered in %d attempt(s)", result.Attempts))
	return handlerOutcome{answer: result.Text, docs: []core.SourceDocument{doc}, cacheable: true, status: "ok"}
}

// runFallback never calls the generation backend: it is reached when the
// classifier failed or produced garbage, so the model may well be down, and
// the contract for unroutable questions is a clarifying message, not a
// free-form answer.
func (o *Orchestrator) runFallback(ctx context.Context, q core.Query, step func(a, i, ob string)) handlerOutcome {
	step("clarify", q.Question, "question could not be routed")
	answer := fmt.Sprintf(
		"I'm not sure how to help with %q. Could you please rephrase your question, or tell me whether it concerns documentation, live ERP data or a business analysis?",
		q.Question)
	return handlerOutcome{answer: answer, status: "ok"}
}

// AnswerStream streams the answer for a query. Cache hits and non-streaming
// handlers are replayed chunk by chunk so callers always consume the same
// channel contract.
func (o *Orchestrator) AnswerStream(ctx context.Context, q core.Query) (<-chan llm.StreamChunk, error) {
	ctx, qid := core.EnsureQueryID(ctx)
	q.ID = qid

	if o.deps.Cache != nil {
		if cached := o.deps.Cache.Get(ctx, q); cached != nil {
			o.deps.Metrics.RecordQuery(ctx, cached.Handler, "cached")
			return replay(ctx, cached.Answer), nil
		}
	}

	if !q.HasImage() {
		if label, err := o.deps.Generator.Classify(ctx, fmt.Sprintf(routingPrompt, q.Question)); err == nil {
			if h, ok := ParseHandler(label); ok && h == HandlerKnowledge {
				docs := o.deps.Retriever.Retrieve(ctx, q)
				ranked := topK(o.deps.Reranker.Rerank(ctx, q.Question, docs), o.opts.TopK)
				return o.deps.Generator.GenerateStream(ctx, q.Question, ranked)
			}
		}
	}

	resp := o.Answer(ctx, q)
	return replay(ctx, resp.Answer), nil
}

// replay streams a complete answer word by word.
func replay(ctx context.Context, answer string) <-chan llm.StreamChunk {
	chunks := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(chunks)
		for _, word := range strings.Fields(answer) {
			select {
			case <-ctx.Done():
				// Best effort only. The consumer is usually gone by now, and
				// a blocking send here would pin this goroutine forever.
				select {
				case chunks <- llm.StreamChunk{Error: ctx.Err()}:
				default:
				}
				return
			case chunks <- llm.StreamChunk{Content: word + " "}:
			}
		}
		select {
		case chunks <- llm.StreamChunk{Done: true}:
		case <-ctx.Done():
		}
	}()
	return chunks
}

func (o *Orchestrator) recordAudit(ctx context.Context, q core.Query, handler, status, capability string, started time.Time) {
	err := o.deps.Audit.Record(ctx, audit.Event{
		QueryID:    q.ID,
		Role:       q.Role,
		ActorID:    q.ActorID,
		Question:   q.Question,
		Handler:    handler,
		Capability: capability,
		Status:     status,
		StartedAt:  started,
		FinishedAt: time.Now(),
	})
	if err != nil {
		o.deps.Logger.WarnContext(ctx, "audit record failed", "error", err)
	}
}
