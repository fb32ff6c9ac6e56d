package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/erpilot-ai/erpilot/pkg/core"
)

type fixedScorer struct {
	scores []float64
	err    error
}

func (f fixedScorer) Score(ctx context.Context, question string, candidates []core.SourceDocument) ([]float64, error) {
	return f.scores, f.err
}

func docs(ids ...string) []core.SourceDocument {
	out := make([]core.SourceDocument, len(ids))
	for i, id := range ids {
		out[i] = core.SourceDocument{ID: id, Content: "content " + id}
	}
	return out
}

func TestRerankOrdersByScoreDescending(t *testing.T) {
	r := New(fixedScorer{scores: []float64{0.1, 0.9, 0.5}}, nil, nil)
	out := r.Rerank(context.Background(), "q", docs("a", "b", "c"))

	want := []string{"b", "c", "a"}
	for i, id := range want {
		if out[i].ID != id {
			t.Errorf("position %d = %s, want %s", i, out[i].ID, id)
		}
	}
}

func TestRerankStableOnTies(t *testing.T) {
	r := New(fixedScorer{scores: []float64{0.5, 0.5, 0.5}}, nil, nil)
	out := r.Rerank(context.Background(), "q", docs("a", "b", "c"))
	for i, id := range []string{"a", "b", "c"} {
		if out[i].ID != id {
			t.Errorf("tied scores must preserve input order, got %s at %d", out[i].ID, i)
		}
	}
}

func TestRerankFailsOpenOnScorerError(t *testing.T) {
	r := New(fixedScorer{err: errors.New("model not loaded")}, nil, nil)
	out := r.Rerank(context.Background(), "q", docs("a", "b", "c"))
	if len(out) != 3 || out[0].ID != "a" || out[1].ID != "b" || out[2].ID != "c" {
		t.Errorf("scorer failure must keep retrieval order intact: %+v", out)
	}
}

func TestRerankFailsOpenOnScoreCountMismatch(t *testing.T) {
	r := New(fixedScorer{scores: []float64{0.9}}, nil, nil)
	out := r.Rerank(context.Background(), "q", docs("a", "b"))
	if len(out) != 2 || out[0].ID != "a" || out[1].ID != "b" {
		t.Errorf("malformed score vector must not reorder: %+v", out)
	}
}

// Rerank is a permutation: same candidates in, same candidates out,
// regardless of scores, count or scorer health.
func TestRerankPreservesMembership(t *testing.T) {
	in := docs("a", "b", "c", "d", "e", "f", "g", "h")
	cases := map[string]*Reranker{
		"scored":       New(fixedScorer{scores: []float64{3, 1, 2, 8, 5, 4, 7, 6}}, nil, nil),
		"scorer error": New(fixedScorer{err: errors.New("down")}, nil, nil),
		"nil scorer":   New(nil, nil, nil),
		"lexical":      New(LexicalScorer{}, nil, nil),
	}
	for name, r := range cases {
		out := r.Rerank(context.Background(), "q", in)
		if len(out) != len(in) {
			t.Errorf("%s: membership changed: %d docs in, %d out", name, len(in), len(out))
			continue
		}
		seen := map[string]int{}
		for _, d := range out {
			seen[d.ID]++
		}
		for _, d := range in {
			if seen[d.ID] != 1 {
				t.Errorf("%s: candidate %s appears %d times in output", name, d.ID, seen[d.ID])
			}
		}
	}
}

func TestRerankEmptyInput(t *testing.T) {
	r := New(LexicalScorer{}, nil, nil)
	if out := r.Rerank(context.Background(), "q", nil); len(out) != 0 {
		t.Errorf("empty in, empty out")
	}
}

func TestLexicalScorer(t *testing.T) {
	candidates := []core.SourceDocument{
		{ID: "hit", Content: "The refund policy allows returns within thirty days."},
		{ID: "miss", Content: "Warehouse stocktake schedule for Q3."},
	}
	scores, err := LexicalScorer{}.Score(context.Background(), "What is the refund policy?", candidates)
	if err != nil {
		t.Fatal(err)
	}
	if scores[0] <= scores[1] {
		t.Errorf("relevant doc should outscore irrelevant: %v", scores)
	}
}
