package llm

import "context"

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single unit of communication.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Images carries base64-encoded image payloads for multimodal models.
	Images []string `json:"images,omitempty"`
}

// ChatRequest encapsulates the input for the LLM.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	// Temperature is forwarded only when set, so an explicit zero (greedy
	// decoding) is distinguishable from "use the provider default".
	Temperature *float64 `json:"temperature,omitempty"`
	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// Temp returns a pointer for ChatRequest.Temperature.
func Temp(v float64) *float64 { return &v }

// ChatResponse encapsulates the output from the LLM.
type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one incremental piece of a streamed completion.
// Done is set on the final chunk, which also carries total Usage.
// Error terminates the stream; no chunks follow it.
type StreamChunk struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
	Error   error  `json:"-"`
}

// Provider defines the interface for interacting with LLM backends.
type Provider interface {
	// Chat sends a chat request to the LLM and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// StreamingProvider is implemented by providers that can stream completions.
// The returned channel is closed after the Done or Error chunk.
type StreamingProvider interface {
	Provider
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}

// ImageAnalyzer describes a vision-capable backend that can answer a
// question about an image.
type ImageAnalyzer interface {
	AnalyzeImage(ctx context.Context, question string, imageRef string) (string, error)
}
