// Copyright 2026 © The Erpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package generation turns the question and its supporting evidence into a
// final answer, retrying transient model failures with backoff.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/erpilot-ai/erpilot/pkg/core"
	pilotErrors "github.com/erpilot-ai/erpilot/pkg/errors"
	"github.com/erpilot-ai/erpilot/pkg/llm"
	"github.com/erpilot-ai/erpilot/pkg/resilience"
	"github.com/erpilot-ai/erpilot/pkg/telemetry"
)

const systemPrompt = `You are an assistant for an ERP system. Answer the user's question using only the provided context. If the context does not contain the answer, say so. Be concise and factual.`

// Config tunes the generation engine.
type Config struct {
	Model        string
	MaxTokens    int
	Temperature  float64
	MaxAttempts  int
	InitialDelay time.Duration
}

// Result carries the generated text plus how many attempts it took, for the
// reasoning trace.
type Result struct {
	Text     string
	Attempts int
}

// Engine drives answer generation against an LLM provider.
type Engine struct {
	provider llm.Provider
	cfg      Config
	logger   *slog.Logger
	metrics  *telemetry.PipelineMetrics
}

// New creates a generation engine.
func New(provider llm.Provider, cfg Config, logger *slog.Logger, metrics *telemetry.PipelineMetrics) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 200 * time.Millisecond
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{provider: provider, cfg: cfg, logger: logger, metrics: metrics}
}

// BuildPrompt assembles the deterministic generation prompt: the same
// question and documents always produce byte-identical output, which keeps
// cached responses valid.
func BuildPrompt(question string, docs []core.SourceDocument) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	if len(docs) == 0 {
		b.WriteString("(no supporting documents were found)\n")
	}
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, d.Origin, d.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	return b.String()
}

// Generate produces an answer, retrying transient failures. On exhaustion
// the returned error carries CodeGenerationFatal.
func (e *Engine) Generate(ctx context.Context, question string, docs []core.SourceDocument) (*Result, error) {
	req := llm.ChatRequest{
		Model: e.cfg.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: BuildPrompt(question, docs)},
		},
		Temperature: llm.Temp(e.cfg.Temperature),
		MaxTokens:   e.cfg.MaxTokens,
	}

	var resp *llm.ChatResponse
	attempts := 0
	retry := resilience.DefaultRetryConfig().
		WithMaxAttempts(e.cfg.MaxAttempts).
		WithInitialDelay(e.cfg.InitialDelay)

	err := retry.Do(ctx, func() error {
		attempts++
		var chatErr error
		resp, chatErr = e.provider.Chat(ctx, req)
		if chatErr != nil {
			e.logger.WarnContext(ctx, "generation attempt failed",
				"attempt", attempts, "error", chatErr)
		}
		return chatErr
	})

	e.metrics.RecordGenerationAttempts(ctx, attempts)

	if err != nil {
		if pilotErrors.HasCode(err, pilotErrors.CodeContextLost) {
			return nil, err
		}
		return nil, pilotErrors.New(pilotErrors.CodeGenerationFatal,
			"generation failed after retries", err).
			WithContext("attempts", attempts)
	}

	return &Result{Text: resp.Content, Attempts: attempts}, nil
}

// GenerateStream streams the answer. Providers without native streaming
// fall back to a single Generate call replayed word by word, so callers
// always get the same channel contract.
func (e *Engine) GenerateStream(ctx context.Context, question string, docs []core.SourceDocument) (<-chan llm.StreamChunk, error) {
	if sp, ok := e.provider.(llm.StreamingProvider); ok {
		return sp.ChatStream(ctx, llm.ChatRequest{
			Model: e.cfg.Model,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: systemPrompt},
				{Role: llm.RoleUser, Content: BuildPrompt(question, docs)},
			},
			Temperature: llm.Temp(e.cfg.Temperature),
			MaxTokens:   e.cfg.MaxTokens,
		})
	}

	result, err := e.Generate(ctx, question, docs)
	if err != nil {
		return nil, err
	}

	chunks := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(chunks)
		for _, word := range strings.Fields(result.Text) {
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
	return chunks, nil
}

// Classify asks the model for a single routing label. Temperature is pinned
// to zero and the completion is capped so the model cannot ramble; the
// caller validates the label against its closed set.
func (e *Engine) Classify(ctx context.Context, prompt string) (string, error) {
	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Model: e.cfg.Model,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: llm.Temp(0),
		MaxTokens:   16,
	})
	if err != nil {
		return "", pilotErrors.New(pilotErrors.CodeGenerationTransient,
			"classification failed", err).WithRecoverable(true)
	}
	return strings.TrimSpace(strings.ToLower(resp.Content)), nil
}
