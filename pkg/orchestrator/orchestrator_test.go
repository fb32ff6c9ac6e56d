package orchestrator

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/erpilot-ai/erpilot/pkg/cache"
	"github.com/erpilot-ai/erpilot/pkg/core"
	"github.com/erpilot-ai/erpilot/pkg/generation"
	"github.com/erpilot-ai/erpilot/pkg/llm"
	"github.com/erpilot-ai/erpilot/pkg/rbac"
	"github.com/erpilot-ai/erpilot/pkg/tool"
)

type fakeRetriever struct {
	docs  []core.SourceDocument
	calls int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, q core.Query) []core.SourceDocument {
	f.calls++
	return f.docs
}

type passReranker struct{}

func (passReranker) Rerank(ctx context.Context, question string, docs []core.SourceDocument) []core.SourceDocument {
	return docs
}

// fakeGenerator scripts the routing label and answers everything else with
// a fixed completion.
type fakeGenerator struct {
	label         string
	labelErr      error
	answer        string
	answerErr     error
	classifyCalls int
	generateCalls int
	selection     string
}

func (f *fakeGenerator) Generate(ctx context.Context, question string, docs []core.SourceDocument) (*generation.Result, error) {
	f.generateCalls++
	if f.answerErr != nil {
		return nil, f.answerErr
	}
	return &generation.Result{Text: f.answer, Attempts: 1}, nil
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, question string, docs []core.SourceDocument) (<-chan llm.StreamChunk, error) {
	if f.answerErr != nil {
		return nil, f.answerErr
	}
	chunks := make(chan llm.StreamChunk, 2)
	chunks <- llm.StreamChunk{Content: f.answer}
	chunks <- llm.StreamChunk{Done: true}
	close(chunks)
	return chunks, nil
}

func (f *fakeGenerator) Classify(ctx context.Context, prompt string) (string, error) {
	f.classifyCalls++
	if f.labelErr != nil {
		return "", f.labelErr
	}
	if strings.Contains(prompt, "capability") && f.selection != "" {
		return f.selection, nil
	}
	return f.label, nil
}

type memCache struct {
	entries map[string]*core.Response
}

func newMemCache() *memCache { return &memCache{entries: map[string]*core.Response{}} }

func (m *memCache) Get(ctx context.Context, q core.Query) *core.Response {
	if r, ok := m.entries[cache.Key(q)]; ok {
		clone := *r
		clone.Cached = true
		return &clone
	}
	return nil
}

func (m *memCache) Set(ctx context.Context, q core.Query, resp *core.Response) {
	m.entries[cache.Key(q)] = resp
}

type fakeImages struct {
	answer string
	err    error
	calls  int
}

func (f *fakeImages) AnalyzeImage(ctx context.Context, question, imageRef string) (string, error) {
	f.calls++
	return f.answer, f.err
}

type fakeInsights struct {
	answer string
	err    error
}

func (f *fakeInsights) Analyze(ctx context.Context, question, role string) (string, error) {
	return f.answer, f.err
}

func newTestDispatcher(t *testing.T) (*tool.Dispatcher, *callCounter) {
	t.Helper()
	counter := &callCounter{}
	registry, err := tool.NewRegistry(
		tool.Capability{
			Name:        "get_product_stock_level",
			Description: "Stock level for a product.",
			Idempotent:  true,
			Handler: func(ctx context.Context, args tool.Args) (any, error) {
				counter.n++
				return map[string]any{"stock": 42}, nil
			},
		},
		tool.Capability{
			Name:        "create_payment",
			Description: "Record a payment.",
			Handler: func(ctx context.Context, args tool.Args) (any, error) {
				counter.n++
				return map[string]any{"id": "PAY-1"}, nil
			},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	return tool.NewDispatcher(registry, rbac.NewTable(rbac.DefaultPolicy()), nil, nil), counter
}

type callCounter struct{ n int }

func TestKnowledgeRouting(t *testing.T) {
	retriever := &fakeRetriever{docs: []core.SourceDocument{{ID: "d1", Content: "policy"}}}
	gen := &fakeGenerator{label: "knowledge", answer: "the policy says 30 days"}
	o := New(Deps{Retriever: retriever, Reranker: passReranker{}, Generator: gen}, Options{})

	resp := o.Answer(context.Background(), core.Query{Role: "analyst", Question: "refund policy?"})
	if resp.Handler != "knowledge" {
		t.Fatalf("handler = %s", resp.Handler)
	}
	if resp.Answer != "the policy says 30 days" {
		t.Errorf("answer = %q", resp.Answer)
	}
	if retriever.calls != 1 {
		t.Errorf("retriever calls = %d", retriever.calls)
	}
	if len(resp.SourceDocuments) != 1 {
		t.Errorf("source documents missing")
	}
	if len(resp.ThoughtProcess) == 0 {
		t.Errorf("thought trace missing")
	}
}

func TestLiveERPRoutingExecutesCapability(t *testing.T) {
	dispatcher, counter := newTestDispatcher(t)
	gen := &fakeGenerator{
		label:     "live_erp",
		selection: `{"capability": "get_product_stock_level", "args": {"product_id": "SKU-1"}}`,
		answer:    "There are 42 units in stock.",
	}
	o := New(Deps{
		Retriever: &fakeRetriever{}, Reranker: passReranker{},
		Generator: gen, Dispatcher: dispatcher,
	}, Options{})

	resp := o.Answer(context.Background(), core.Query{Role: "warehouse_manager", Question: "stock of SKU-1?"})
	if resp.Handler != "live_erp" {
		t.Fatalf("handler = %s", resp.Handler)
	}
	if counter.n != 1 {
		t.Errorf("capability executions = %d, want 1", counter.n)
	}
	if resp.Answer != "There are 42 units in stock." {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func TestLiveERPDenialYieldsApologyAndNoCall(t *testing.T) {
	dispatcher, counter := newTestDispatcher(t)
	gen := &fakeGenerator{
		label:     "live_erp",
		selection: `{"capability": "create_payment", "args": {"vendor_id": "V-1"}}`,
		answer:    "should not be used",
	}
	mc := newMemCache()
	o := New(Deps{
		Retriever: &fakeRetriever{}, Reranker: passReranker{},
		Generator: gen, Dispatcher: dispatcher, Cache: mc,
	}, Options{})

	resp := o.Answer(context.Background(), core.Query{Role: "sales_rep", Question: "pay vendor V-1"})
	if counter.n != 0 {
		t.Errorf("denied capability must not execute, got %d calls", counter.n)
	}
	if resp.Answer != apologyDenied {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(mc.entries) != 0 {
		t.Errorf("denials must not be cached")
	}
}

func TestImageBypassesClassifier(t *testing.T) {
	gen := &fakeGenerator{label: "knowledge", answer: "inventory has risen steadily"}
	images := &fakeImages{answer: "the chart shows rising inventory"}
	o := New(Deps{
		Retriever: &fakeRetriever{}, Reranker: passReranker{},
		Generator: gen, Images: images,
	}, Options{})

	resp := o.Answer(context.Background(), core.Query{
		Role: "analyst", Question: "what does this show?", ImageRef: "aW1n",
	})
	if resp.Handler != "multimodal" {
		t.Fatalf("handler = %s", resp.Handler)
	}
	if gen.classifyCalls != 0 {
		t.Errorf("image queries must never consult the classifier")
	}
	if images.calls != 1 {
		t.Errorf("image analyzer calls = %d", images.calls)
	}
	if resp.Answer != "inventory has risen steadily" {
		t.Errorf("answer should come from generation over the image description, got %q", resp.Answer)
	}
	if len(resp.SourceDocuments) != 1 || resp.SourceDocuments[0].Origin != "image" {
		t.Errorf("image description should surface as a source document")
	}
}

func TestKnowledgeCapsDocumentsAtTopK(t *testing.T) {
	retriever := &fakeRetriever{docs: docsN(8)}
	gen := &fakeGenerator{label: "knowledge", answer: "answered"}
	o := New(Deps{Retriever: retriever, Reranker: passReranker{}, Generator: gen}, Options{TopK: 3})

	resp := o.Answer(context.Background(), core.Query{Role: "analyst", Question: "?"})
	if len(resp.SourceDocuments) != 3 {
		t.Errorf("documents reaching generation = %d, want 3", len(resp.SourceDocuments))
	}
}

func docsN(n int) []core.SourceDocument {
	out := make([]core.SourceDocument, n)
	for i := range out {
		out[i] = core.SourceDocument{ID: string(rune('a' + i)), Content: "doc"}
	}
	return out
}

func TestMutatingCapabilityNotCached(t *testing.T) {
	dispatcher, counter := newTestDispatcher(t)
	mc := newMemCache()
	gen := &fakeGenerator{
		label:     "live_erp",
		selection: `{"capability": "create_payment", "args": {"vendor_id": "V-1"}}`,
		answer:    "Payment PAY-1 recorded.",
	}
	o := New(Deps{
		Retriever: &fakeRetriever{}, Reranker: passReranker{},
		Generator: gen, Dispatcher: dispatcher, Cache: mc,
	}, Options{})

	q := core.Query{Role: "finance_manager", Question: "pay vendor V-1"}
	o.Answer(context.Background(), q)
	o.Answer(context.Background(), q)

	if len(mc.entries) != 0 {
		t.Errorf("answers backed by a mutating capability must not be cached")
	}
	if counter.n != 2 {
		t.Errorf("capability executions = %d, want 2 (no cache replay)", counter.n)
	}
}

func TestReadCapabilityIsCached(t *testing.T) {
	dispatcher, counter := newTestDispatcher(t)
	mc := newMemCache()
	gen := &fakeGenerator{
		label:     "live_erp",
		selection: `{"capability": "get_product_stock_level", "args": {"product_id": "SKU-1"}}`,
		answer:    "There are 42 units in stock.",
	}
	o := New(Deps{
		Retriever: &fakeRetriever{}, Reranker: passReranker{},
		Generator: gen, Dispatcher: dispatcher, Cache: mc,
	}, Options{})

	q := core.Query{Role: "warehouse_manager", Question: "stock of SKU-1?"}
	o.Answer(context.Background(), q)
	second := o.Answer(context.Background(), q)

	if !second.Cached {
		t.Errorf("read-only capability answers should replay from cache")
	}
	if counter.n != 1 {
		t.Errorf("capability executions = %d, want 1", counter.n)
	}
}

func TestInvalidLabelFallsBack(t *testing.T) {
	gen := &fakeGenerator{label: "quantum_stuff", answer: "generic answer"}
	o := New(Deps{Retriever: &fakeRetriever{}, Reranker: passReranker{}, Generator: gen}, Options{})

	resp := o.Answer(context.Background(), core.Query{Role: "analyst", Question: "?"})
	if resp.Handler != "fallback" {
		t.Errorf("handler = %s, want fallback", resp.Handler)
	}
}

func TestClassifierErrorFallsBack(t *testing.T) {
	gen := &fakeGenerator{labelErr: errors.New("model down"), answer: "unused"}
	o := New(Deps{Retriever: &fakeRetriever{}, Reranker: passReranker{}, Generator: gen}, Options{})

	resp := o.Answer(context.Background(), core.Query{Role: "analyst", Question: "what about the thing?"})
	if resp.Handler != "fallback" {
		t.Errorf("handler = %s, want fallback", resp.Handler)
	}
	if !strings.Contains(resp.Answer, "rephrase") || !strings.Contains(resp.Answer, "what about the thing?") {
		t.Errorf("fallback should ask to rephrase, mentioning the question: %q", resp.Answer)
	}
	// The classifier just failed; the fallback must not call the same
	// backend again for a free-form answer.
	if gen.generateCalls != 0 {
		t.Errorf("fallback made %d generation calls, want 0", gen.generateCalls)
	}
}

func TestMultimodalLabelWithoutImageFallsBack(t *testing.T) {
	gen := &fakeGenerator{label: "multimodal", answer: "plain answer"}
	o := New(Deps{Retriever: &fakeRetriever{}, Reranker: passReranker{}, Generator: gen}, Options{})

	resp := o.Answer(context.Background(), core.Query{Role: "analyst", Question: "?"})
	if resp.Handler != "fallback" {
		t.Errorf("handler = %s, want fallback", resp.Handler)
	}
}

func TestBusinessIntelligenceRouting(t *testing.T) {
	gen := &fakeGenerator{label: "business_intelligence", answer: "unused"}
	o := New(Deps{
		Retriever: &fakeRetriever{}, Reranker: passReranker{},
		Generator: gen, Insights: &fakeInsights{answer: "revenue grew due to volume"},
	}, Options{})

	resp := o.Answer(context.Background(), core.Query{Role: "ceo", Question: "why did revenue grow?"})
	if resp.Handler != "business_intelligence" {
		t.Fatalf("handler = %s", resp.Handler)
	}
	if resp.Answer != "revenue grew due to volume" {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func TestSecondIdenticalQueryIsCached(t *testing.T) {
	retriever := &fakeRetriever{}
	gen := &fakeGenerator{label: "knowledge", answer: "cached answer"}
	o := New(Deps{
		Retriever: retriever, Reranker: passReranker{},
		Generator: gen, Cache: newMemCache(),
	}, Options{})

	q := core.Query{Role: "analyst", Question: "refund policy?"}
	first := o.Answer(context.Background(), q)
	if first.Cached {
		t.Errorf("first answer must not be flagged cached")
	}

	second := o.Answer(context.Background(), q)
	if !second.Cached {
		t.Fatalf("second identical query should be served from cache")
	}
	if second.Answer != first.Answer {
		t.Errorf("cached answer differs: %q vs %q", second.Answer, first.Answer)
	}
	if retriever.calls != 1 {
		t.Errorf("retrieval ran %d times, want 1", retriever.calls)
	}
}

func TestGenerationFailureYieldsApologyNotCached(t *testing.T) {
	mc := newMemCache()
	gen := &fakeGenerator{label: "knowledge", answerErr: errors.New("llm down")}
	o := New(Deps{
		Retriever: &fakeRetriever{}, Reranker: passReranker{},
		Generator: gen, Cache: mc,
	}, Options{})

	resp := o.Answer(context.Background(), core.Query{Role: "analyst", Question: "?"})
	if resp.Answer != apologyFailure {
		t.Errorf("answer = %q", resp.Answer)
	}
	if len(mc.entries) != 0 {
		t.Errorf("failures must not be cached")
	}
}

func TestAnswerStreamKnowledge(t *testing.T) {
	gen := &fakeGenerator{label: "knowledge", answer: "streamed answer"}
	o := New(Deps{Retriever: &fakeRetriever{}, Reranker: passReranker{}, Generator: gen}, Options{})

	chunks, err := o.AnswerStream(context.Background(), core.Query{Role: "analyst", Question: "?"})
	if err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	for c := range chunks {
		sb.WriteString(c.Content)
	}
	if got := strings.TrimSpace(sb.String()); got != "streamed answer" {
		t.Errorf("assembled %q", got)
	}
}

func TestParseHandler(t *testing.T) {
	cases := map[string]struct {
		h  Handler
		ok bool
	}{
		"knowledge":             {HandlerKnowledge, true},
		" Live_ERP ":            {HandlerLiveERP, true},
		"business_intelligence": {HandlerBusinessIntelligence, true},
		"multimodal":            {HandlerMultimodal, true},
		"fallback":              {HandlerFallback, true},
		"banana":                {HandlerFallback, false},
		"":                      {HandlerFallback, false},
	}
	for in, want := range cases {
		h, ok := ParseHandler(in)
		if ok != want.ok {
			t.Errorf("ParseHandler(%q) ok = %v, want %v", in, ok, want.ok)
			continue
		}
		if ok && h != want.h {
			t.Errorf("ParseHandler(%q) = %v, want %v", in, h, want.h)
		}
	}
}

func TestParseSelection(t *testing.T) {
	cases := []string{
		`{"capability": "create_order", "args": {"customer_id": "C-1"}}`,
		"```json\n{\"capability\": \"create_order\", \"args\": {}}\n```",
		`Sure, here is the call: {"capability": "create_order", "args": {}}`,
	}
	for _, in := range cases {
		sel, err := parseSelection(in)
		if err != nil {
			t.Errorf("parseSelection(%q): %v", in, err)
			continue
		}
		if sel.Capability != "create_order" {
			t.Errorf("capability = %q", sel.Capability)
		}
	}

	if _, err := parseSelection("I cannot help with that."); err == nil {
		t.Errorf("prose without JSON must fail")
	}
	if _, err := parseSelection(`{"args": {}}`); err == nil {
		t.Errorf("missing capability name must fail")
	}
}

func TestReplayAbandonedConsumerStops(t *testing.T) {
	before := runtime.NumGoroutine()
	ctx, cancel := context.WithCancel(context.Background())
	// Never read from the channel; cancellation alone must free the producer.
	_ = replay(ctx, strings.Repeat("word ", 64))
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := runtime.NumGoroutine(); n > before {
		t.Errorf("replay producer still running: %d goroutines, started with %d", n, before)
	}
}
