// Package qdrant implements role-filtered vector search over a Qdrant
// collection via its gRPC API.
package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/erpilot-ai/erpilot/pkg/core"
)

// Embedder converts text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store searches a Qdrant collection. Documents are indexed with a "role"
// payload field; Search filters on it server-side so a caller never sees
// documents outside their role.
type Store struct {
	conn           *grpc.ClientConn
	points         pb.PointsClient
	collections    pb.CollectionsClient
	embedder       Embedder
	collection     string
	scoreThreshold float32
}

// New connects to Qdrant at addr.
func New(addr, collection string, embedder Embedder, scoreThreshold float32) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	return &Store{
		conn:           conn,
		points:         pb.NewPointsClient(conn),
		collections:    pb.NewCollectionsClient(conn),
		embedder:       embedder,
		collection:     collection,
		scoreThreshold: scoreThreshold,
	}, nil
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// EnsureCollection creates the collection if it does not exist.
func (s *Store) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Upsert indexes documents with their role payload.
func (s *Store) Upsert(ctx context.Context, docs []IndexedDocument) error {
	points := make([]*pb.PointStruct, len(docs))
	for i, d := range docs {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: d.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: d.Vector},
				},
			},
			Payload: map[string]*pb.Value{
				"content": {Kind: &pb.Value_StringValue{StringValue: d.Content}},
				"role":    {Kind: &pb.Value_StringValue{StringValue: d.Role}},
			},
		}
	}
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// IndexedDocument is one document to index.
type IndexedDocument struct {
	ID      string
	Content string
	Role    string
	Vector  []float32
}

// Search embeds the question and runs a role-filtered similarity search.
func (s *Store) Search(ctx context.Context, question, role string, k int) ([]core.SourceDocument, error) {
	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		Filter: &pb.Filter{
			Must: []*pb.Condition{
				{
					ConditionOneOf: &pb.Condition_Field{
						Field: &pb.FieldCondition{
							Key: "role",
							Match: &pb.Match{
								MatchValue: &pb.Match_Keyword{Keyword: role},
							},
						},
					},
				},
			},
		},
	}
	if s.scoreThreshold > 0 {
		req.ScoreThreshold = &s.scoreThreshold
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	docs := make([]core.SourceDocument, 0, len(resp.Result))
	for _, r := range resp.Result {
		var id string
		if r.Id.GetUuid() != "" {
			id = r.Id.GetUuid()
		} else {
			id = fmt.Sprintf("%d", r.Id.GetNum())
		}
		content := ""
		if v, ok := r.Payload["content"]; ok {
			content = v.GetStringValue()
		}
		docs = append(docs, core.SourceDocument{
			ID:      id,
			Content: content,
			Score:   float64(r.Score),
			Origin:  "vector",
			Metadata: map[string]string{
				"role": role,
			},
		})
	}
	return docs, nil
}
