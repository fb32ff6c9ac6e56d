// Package insights produces business-intelligence analyses: trend summaries
// and diagnostic breakdowns that go beyond a single retrieval answer.
package insights

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/semaphore"

	pilotErrors "github.com/erpilot-ai/erpilot/pkg/errors"
	"github.com/erpilot-ai/erpilot/pkg/llm"
)

// Engine runs a business-intelligence analysis for a question.
type Engine interface {
	Analyze(ctx context.Context, question, role string) (string, error)
}

const analysisPrompt = `You are a business analyst for an ERP system. The user has role %q.
Analyze the following question and produce a short, structured analysis:
key metrics to look at, likely drivers, and a recommendation.

Question: %s`

// LLMEngine implements Engine over an LLM provider.
type LLMEngine struct {
	provider llm.Provider
	model    string
}

// NewLLMEngine creates an LLM-backed insights engine.
func NewLLMEngine(provider llm.Provider, model string) *LLMEngine {
	return &LLMEngine{provider: provider, model: model}
}

func (e *LLMEngine) Analyze(ctx context.Context, question, role string) (string, error) {
	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Model: e.model,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf(analysisPrompt, role, question)},
		},
		Temperature: llm.Temp(0.3),
	})
	if err != nil {
		return "", pilotErrors.New(pilotErrors.CodeToolFailure,
			"insights analysis failed", err).WithRecoverable(true)
	}
	return strings.TrimSpace(resp.Content), nil
}

// Bounded wraps an Engine with a concurrency limit so a burst of analysis
// queries cannot saturate the model backend.
type Bounded struct {
	inner Engine
	sem   *semaphore.Weighted
}

// NewBounded caps concurrent analyses at limit.
func NewBounded(inner Engine, limit int64) *Bounded {
	if limit <= 0 {
		limit = 4
	}
	return &Bounded{inner: inner, sem: semaphore.NewWeighted(limit)}
}

func (b *Bounded) Analyze(ctx context.Context, question, role string) (string, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return "", pilotErrors.New(pilotErrors.CodeContextLost,
			"canceled while waiting for an analysis slot", err)
	}
	defer b.sem.Release(1)
	return b.inner.Analyze(ctx, question, role)
}
