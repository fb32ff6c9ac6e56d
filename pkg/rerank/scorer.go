package rerank

import (
	"context"
	"strings"

	"github.com/erpilot-ai/erpilot/pkg/core"
)

// LexicalScorer scores candidates by question-term overlap. It is the
// default scorer when no cross-encoder service is configured: cheap,
// deterministic and never unavailable.
type LexicalScorer struct{}

// Score returns the fraction of question terms present in each candidate.
func (LexicalScorer) Score(ctx context.Context, question string, candidates []core.SourceDocument) ([]float64, error) {
	terms := tokenize(question)
	scores := make([]float64, len(candidates))
	if len(terms) == 0 {
		return scores, nil
	}
	for i, c := range candidates {
		content := strings.ToLower(c.Content)
		hits := 0
		for term := range terms {
			if strings.Contains(content, term) {
				hits++
			}
		}
		scores[i] = float64(hits) / float64(len(terms))
	}
	return scores, nil
}

func tokenize(s string) map[string]bool {
	terms := map[string]bool{}
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.Trim(f, ".,;:!?\"'()")
		if len(f) > 2 {
			terms[f] = true
		}
	}
	return terms
}
