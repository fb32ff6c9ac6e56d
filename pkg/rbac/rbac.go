// Package rbac maps business roles to the capabilities they may invoke.
// A policy is an immutable snapshot; the Table swaps snapshots atomically so
// reloads never block or tear in-flight authorization checks.
package rbac

import (
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	pilotErrors "github.com/erpilot-ai/erpilot/pkg/errors"
)

// lowRiskCapabilities are the only capabilities the default role may carry.
// Unmapped roles fall back to default, so anything beyond read-only baseline
// access here would leak privileges to unknown callers.
var lowRiskCapabilities = map[string]bool{
	"get_current_date": true,
	"vector_search":    true,
}

// Policy is an immutable role-to-capability mapping.
type Policy struct {
	roles map[string]map[string]bool
}

// Decision captures the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Role    string // effective role after default fallback
	Reason  string
}

// NewPolicy builds a validated policy from a role-to-capability mapping.
// The mapping must contain a "default" entry restricted to low-risk
// capabilities.
func NewPolicy(mapping map[string][]string) (*Policy, error) {
	defaults, ok := mapping["default"]
	if !ok {
		return nil, pilotErrors.New(pilotErrors.CodeInvalidInput,
			"rbac policy is missing the mandatory default role", nil)
	}
	for _, cap := range defaults {
		if !lowRiskCapabilities[cap] {
			return nil, pilotErrors.New(pilotErrors.CodeInvalidInput,
				fmt.Sprintf("rbac default role may not grant %q", cap), nil)
		}
	}

	roles := make(map[string]map[string]bool, len(mapping))
	for role, caps := range mapping {
		set := make(map[string]bool, len(caps))
		for _, cap := range caps {
			set[cap] = true
		}
		roles[role] = set
	}
	return &Policy{roles: roles}, nil
}

// AllowedCapabilities returns the sorted capability names for a role,
// falling back to the default role when the role is unmapped.
func (p *Policy) AllowedCapabilities(role string) []string {
	set, ok := p.roles[role]
	if !ok {
		set = p.roles["default"]
	}
	caps := make([]string, 0, len(set))
	for cap := range set {
		caps = append(caps, cap)
	}
	sort.Strings(caps)
	return caps
}

// IsAuthorized checks whether a role may invoke a capability.
func (p *Policy) IsAuthorized(role, capability string) Decision {
	effective := role
	set, ok := p.roles[role]
	if !ok {
		effective = "default"
		set = p.roles["default"]
	}
	if set[capability] {
		return Decision{Allowed: true, Role: effective}
	}
	return Decision{
		Allowed: false,
		Role:    effective,
		Reason:  fmt.Sprintf("role %q is not permitted to use %q", effective, capability),
	}
}

// Table holds the active policy and supports lock-free atomic reload.
type Table struct {
	policy atomic.Pointer[Policy]
}

// NewTable creates a table seeded with the given policy.
func NewTable(p *Policy) *Table {
	t := &Table{}
	t.policy.Store(p)
	return t
}

// Current returns the active policy snapshot.
func (t *Table) Current() *Policy {
	return t.policy.Load()
}

// Reload swaps in a new policy. Checks already in flight keep using the
// snapshot they started with.
func (t *Table) Reload(p *Policy) {
	t.policy.Store(p)
}

// AllowedCapabilities resolves against the active policy.
func (t *Table) AllowedCapabilities(role string) []string {
	return t.Current().AllowedCapabilities(role)
}

// IsAuthorized resolves against the active policy.
func (t *Table) IsAuthorized(role, capability string) Decision {
	return t.Current().IsAuthorized(role, capability)
}

// LoadPolicy reads a role-to-capability mapping from a YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pilotErrors.New(pilotErrors.CodeNotFound,
			"failed to read rbac policy file", err).WithContext("path", path)
	}
	var mapping map[string][]string
	if err := yaml.Unmarshal(data, &mapping); err != nil {
		return nil, pilotErrors.New(pilotErrors.CodeInvalidInput,
			"failed to parse rbac policy file", err).WithContext("path", path)
	}
	return NewPolicy(mapping)
}
