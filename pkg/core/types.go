// Package core holds the shared data model of the query pipeline: the
// incoming query, retrieved source documents, the reasoning trace and the
// final response envelope.
package core

import "time"

// Query is a single user question entering the pipeline.
type Query struct {
	// ID is assigned by the orchestrator if empty.
	ID string `json:"id,omitempty"`
	// Role is the caller's business role, used for authorization and
	// retrieval scoping. Unknown roles fall back to the default policy.
	Role string `json:"role"`
	// ActorID identifies the individual caller for record-level scoping.
	ActorID string `json:"actor_id,omitempty"`
	// Question is the natural-language query text.
	Question string `json:"question"`
	// ImageRef, when set, carries a base64-encoded image and forces the
	// multimodal path.
	ImageRef string `json:"image_ref,omitempty"`
}

// HasImage reports whether the query carries an image attachment.
func (q Query) HasImage() bool { return q.ImageRef != "" }

// SourceDocument is one piece of evidence backing an answer.
type SourceDocument struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Origin   string            `json:"origin"` // vector, graph
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ThoughtStep records one step of the pipeline's reasoning trace.
type ThoughtStep struct {
	Action      string    `json:"action"`
	Input       string    `json:"input,omitempty"`
	Observation string    `json:"observation,omitempty"`
	At          time.Time `json:"at"`
}

// Response is the final answer envelope returned to the caller.
type Response struct {
	Answer          string           `json:"answer"`
	SourceDocuments []SourceDocument `json:"source_documents,omitempty"`
	ThoughtProcess  []ThoughtStep    `json:"thought_process,omitempty"`
	Handler         string           `json:"handler"`
	Cached          bool             `json:"cached"`
}
