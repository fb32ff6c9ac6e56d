// Copyright 2026 © The Erpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package graph answers entity and relationship questions by generating a
// Cypher query from the user's question and executing it read-only against
// Neo4j, with mandatory ownership scoping for restricted roles.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/erpilot-ai/erpilot/pkg/core"
	pilotErrors "github.com/erpilot-ai/erpilot/pkg/errors"
	"github.com/erpilot-ai/erpilot/pkg/llm"
)

const cypherPrompt = `You are an expert in the Cypher query language and an ERP system.
Translate the user's natural language question into a single read-only Cypher query using the graph schema below.
Output only the Cypher query, nothing else.

Graph Schema:
%s

Question: %s
Cypher Query:`

// Lookup generates and executes scoped Cypher queries.
type Lookup struct {
	driver     neo4j.DriverWithContext
	database   string
	provider   llm.Provider
	model      string
	restricted map[string]bool
	logger     *slog.Logger
}

// Config holds the Neo4j connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
	// RestrictedRoles are roles whose queries are rewritten to only match
	// records they own.
	RestrictedRoles []string
}

// NewLookup connects to Neo4j and wires the Cypher generation model.
func NewLookup(cfg Config, provider llm.Provider, model string, logger *slog.Logger) (*Lookup, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	restricted := make(map[string]bool, len(cfg.RestrictedRoles))
	for _, r := range cfg.RestrictedRoles {
		restricted[r] = true
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lookup{
		driver:     driver,
		database:   cfg.Database,
		provider:   provider,
		model:      model,
		restricted: restricted,
		logger:     logger,
	}, nil
}

// Close releases the underlying driver.
func (l *Lookup) Close(ctx context.Context) error {
	return l.driver.Close(ctx)
}

// Lookup translates the question to Cypher, validates and scopes it, and
// executes it read-only.
func (l *Lookup) Lookup(ctx context.Context, question, role, actorID string) ([]core.SourceDocument, error) {
	resp, err := l.provider.Chat(ctx, llm.ChatRequest{
		Model: l.model,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: fmt.Sprintf(cypherPrompt, Schema, question)},
		},
		Temperature: llm.Temp(0),
	})
	if err != nil {
		return nil, pilotErrors.New(pilotErrors.CodeToolFailure,
			"cypher generation failed", err).WithRecoverable(true)
	}

	query := ExtractQuery(resp.Content)
	if err := ValidateReadOnly(query); err != nil {
		l.logger.WarnContext(ctx, "rejected generated cypher query",
			"role", role, "error", err)
		return nil, err
	}

	params := map[string]any{}
	if l.restricted[role] {
		if actorID == "" {
			return nil, pilotErrors.New(pilotErrors.CodeUnauthorized,
				"restricted role requires an actor id for graph lookups", nil)
		}
		query, err = InjectScope(query)
		if err != nil {
			return nil, err
		}
		params["actor"] = actorID
	}

	l.logger.DebugContext(ctx, "executing cypher query", "role", role, "query", query)
	return l.execute(ctx, query, params)
}

func (l *Lookup) execute(ctx context.Context, query string, params map[string]any) ([]core.SourceDocument, error) {
	session := l.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: l.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, pilotErrors.New(pilotErrors.CodeToolFailure,
			"cypher execution failed", err).WithRecoverable(true)
	}

	var docs []core.SourceDocument
	i := 0
	for result.Next(ctx) {
		record := result.Record()
		docs = append(docs, core.SourceDocument{
			ID:      fmt.Sprintf("graph-%d", i),
			Content: fmt.Sprintf("%v", record.AsMap()),
			Origin:  "graph",
		})
		i++
	}
	if err := result.Err(); err != nil {
		return nil, pilotErrors.New(pilotErrors.CodeToolFailure,
			"cypher result iteration failed", err).WithRecoverable(true)
	}
	return docs, nil
}
