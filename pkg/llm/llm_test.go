package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestMockProvider(t *testing.T) {
	mock := &MockProvider{Response: "Hello world"}
	resp, err := mock.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("Expected 'Hello world', got '%s'", resp.Content)
	}
}

func TestMockProviderStream(t *testing.T) {
	mock := &MockProvider{Response: "one two three"}
	chunks, err := mock.ChatStream(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	var sb strings.Builder
	var done bool
	for c := range chunks {
		if c.Error != nil {
			t.Fatalf("unexpected stream error: %v", c.Error)
		}
		if c.Done {
			done = true
			continue
		}
		sb.WriteString(c.Content)
	}
	if !done {
		t.Errorf("stream never signalled done")
	}
	if got := strings.TrimSpace(sb.String()); got != "one two three" {
		t.Errorf("assembled %q, want 'one two three'", got)
	}
}

func TestScriptedMockProviderErrors(t *testing.T) {
	transient := errors.New("upstream hiccup")
	mock := NewScriptedMockProvider("final answer")
	mock.Errs = []error{transient, transient}

	for i := 0; i < 2; i++ {
		if _, err := mock.Chat(context.Background(), ChatRequest{}); !errors.Is(err, transient) {
			t.Fatalf("call %d: want scripted error, got %v", i, err)
		}
	}
	resp, err := mock.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("third call should succeed: %v", err)
	}
	if resp.Content != "final answer" {
		t.Errorf("got %q", resp.Content)
	}
	if mock.CallCount != 3 {
		t.Errorf("CallCount = %d, want 3", mock.CallCount)
	}
}

func TestOllamaChatMapsOptions(t *testing.T) {
	var captured ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaResponse{
			Message:         Message{Role: RoleAssistant, Content: "ok"},
			Done:            true,
			EvalCount:       5,
			PromptEvalCount: 7,
		})
	}))
	defer srv.Close()

	p := NewOllama(srv.URL)
	resp, err := p.Chat(context.Background(), ChatRequest{
		Model:       "llama3.1",
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
		Temperature: Temp(0.2),
		MaxTokens:   16,
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("total tokens = %d, want 12", resp.Usage.TotalTokens)
	}
	if captured.Options["num_predict"] != float64(16) {
		t.Errorf("num_predict not forwarded: %v", captured.Options)
	}
	if captured.Options["temperature"] != 0.2 {
		t.Errorf("temperature not forwarded: %v", captured.Options)
	}
}

func TestChatStreamAbandonedConsumerStops(t *testing.T) {
	mock := &MockProvider{Response: strings.Repeat("word ", 64)}

	before := runtime.NumGoroutine()
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := mock.ChatStream(ctx, ChatRequest{}); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := runtime.NumGoroutine(); n > before {
		t.Errorf("stream producer still running: %d goroutines, started with %d", n, before)
	}
}

func TestOllamaForwardsExplicitZeroTemperature(t *testing.T) {
	var captured ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaResponse{Message: Message{Role: RoleAssistant, Content: "ok"}, Done: true})
	}))
	defer srv.Close()

	p := NewOllama(srv.URL)
	if _, err := p.Chat(context.Background(), ChatRequest{
		Model:       "llama3.1",
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
		Temperature: Temp(0),
	}); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if got, ok := captured.Options["temperature"]; !ok || got != float64(0) {
		t.Errorf("explicit zero temperature must reach the backend, options: %v", captured.Options)
	}

	// Unset temperature stays absent so the backend default applies.
	captured = ollamaRequest{}
	if _, err := p.Chat(context.Background(), ChatRequest{
		Model:    "llama3.1",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	}); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if _, ok := captured.Options["temperature"]; ok {
		t.Errorf("unset temperature must not be forwarded, options: %v", captured.Options)
	}
}

func TestOllamaAnalyzeImageUsesConfiguredModel(t *testing.T) {
	var captured ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaResponse{Message: Message{Role: RoleAssistant, Content: "a bar chart"}, Done: true})
	}))
	defer srv.Close()

	p := NewOllama(srv.URL).WithVisionModel("qwen2.5-vl")
	desc, err := p.AnalyzeImage(context.Background(), "what is shown?", "aW1hZ2U=")
	if err != nil {
		t.Fatalf("AnalyzeImage failed: %v", err)
	}
	if desc != "a bar chart" {
		t.Errorf("description = %q", desc)
	}
	if captured.Model != "qwen2.5-vl" {
		t.Errorf("vision model = %q, want qwen2.5-vl", captured.Model)
	}
	if len(captured.Messages) != 1 || len(captured.Messages[0].Images) != 1 {
		t.Errorf("image payload not attached: %+v", captured.Messages)
	}
}

func TestOllamaVisionModelDefaults(t *testing.T) {
	p := NewOllama("").WithVisionModel("")
	if p.visionModel != "llava" {
		t.Errorf("empty override must keep the default, got %q", p.visionModel)
	}
}
