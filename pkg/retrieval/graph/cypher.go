// Copyright 2026 © The Erpilot Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"regexp"
	"strings"

	pilotErrors "github.com/erpilot-ai/erpilot/pkg/errors"
)

// Schema describes the knowledge graph for the Cypher generation prompt.
const Schema = `Nodes:
- Product {name: STRING, stock: INTEGER, price: FLOAT}
- Customer {name: STRING, industry: STRING, owner_id: STRING}
- Order {order_id: STRING, date: DATE, total: FLOAT, owner_id: STRING}
- Employee {name: STRING, department: STRING, role: STRING}

Relationships:
- (Customer)-[:PLACED]->(Order)
- (Order)-[:CONTAINS]->(Product)
- (Employee)-[:MANAGES]->(Employee)
- (Employee)-[:WORKS_IN]->(Department)

Important:
- Customer.owner_id and Order.owner_id hold the id of the sales rep who owns the record.`

// allowedLeadingKeywords are the only clauses a generated query may start
// with. Everything else (CREATE, CALL, ...) is rejected up front.
var allowedLeadingKeywords = map[string]bool{
	"MATCH":    true,
	"OPTIONAL": true,
	"WITH":     true,
	"RETURN":   true,
	"UNWIND":   true,
}

// forbiddenRe matches write or procedure clauses that must never appear
// anywhere in a generated query, even mid-query after a WITH.
var forbiddenRe = regexp.MustCompile(`\b(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP|CALL|LOAD|FOREACH)\b`)

var (
	matchVarRe  = regexp.MustCompile(`(?i)MATCH\s*\(\s*(\w+)`)
	whereRe     = regexp.MustCompile(`(?i)\bWHERE\b`)
	returnRe    = regexp.MustCompile(`(?i)\bRETURN\b`)
	wordRe      = regexp.MustCompile(`\w+`)
	codeFenceRe = regexp.MustCompile("(?s)```(?:cypher)?\\s*(.*?)```")
)

// ExtractQuery pulls the Cypher query out of a model completion, stripping
// code fences and surrounding prose.
func ExtractQuery(completion string) string {
	if m := codeFenceRe.FindStringSubmatch(completion); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(completion)
}

// ValidateReadOnly rejects any generated query that could mutate the graph.
// The model's output is never trusted: the query must start with a read
// clause and must not contain a write or procedure keyword outside string
// literals.
func ValidateReadOnly(query string) error {
	stripped := stripStringLiterals(query)

	first := wordRe.FindString(stripped)
	if first == "" {
		return pilotErrors.New(pilotErrors.CodeInvalidInput, "empty cypher query", nil)
	}
	if !allowedLeadingKeywords[strings.ToUpper(first)] {
		return pilotErrors.New(pilotErrors.CodeInvalidInput,
			fmt.Sprintf("cypher query must start with a read clause, got %q", first), nil)
	}

	if kw := forbiddenRe.FindString(strings.ToUpper(stripped)); kw != "" {
		return pilotErrors.New(pilotErrors.CodeInvalidInput,
			fmt.Sprintf("cypher query contains forbidden keyword %s", kw), nil)
	}
	return nil
}

// InjectScope rewrites a query so restricted roles only see records they
// own. The ownership predicate is bound to the $actor parameter, never
// spliced in as a literal, and is attached to the first matched variable.
// The generated query's own filtering is not trusted.
func InjectScope(query string) (string, error) {
	m := matchVarRe.FindStringSubmatch(query)
	if m == nil {
		return "", pilotErrors.New(pilotErrors.CodeInvalidInput,
			"cannot scope cypher query: no matched variable found", nil)
	}
	clause := m[1] + ".owner_id = $actor"

	if loc := whereRe.FindStringIndex(query); loc != nil {
		return query[:loc[1]] + " " + clause + " AND" + query[loc[1]:], nil
	}
	if loc := returnRe.FindStringIndex(query); loc != nil {
		return query[:loc[0]] + "WHERE " + clause + " " + query[loc[0]:], nil
	}
	return "", pilotErrors.New(pilotErrors.CodeInvalidInput,
		"cannot scope cypher query: no RETURN clause found", nil)
}

// stripStringLiterals blanks out single- and double-quoted strings so
// keyword scanning cannot be fooled by literals like 'DELETE ME'.
func stripStringLiterals(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			b.WriteByte(' ')
			continue
		}
		if c == '\'' || c == '"' || c == '`' {
			quote = c
			b.WriteByte(' ')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
