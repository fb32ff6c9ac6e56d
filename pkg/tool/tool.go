// Copyright 2026 © The Erpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package tool defines the capability registry and the dispatcher that
// executes capabilities under role-based authorization.
package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	pilotErrors "github.com/erpilot-ai/erpilot/pkg/errors"
	"github.com/erpilot-ai/erpilot/pkg/rbac"
	"github.com/erpilot-ai/erpilot/pkg/telemetry"
)

// Args carries the named arguments of one capability invocation.
type Args map[string]any

// String returns the string value for key, or "".
func (a Args) String(key string) string {
	v, _ := a[key].(string)
	return v
}

// Handler executes one capability.
type Handler func(ctx context.Context, args Args) (any, error)

// Capability is a named unit of work the pipeline can dispatch.
// Idempotent marks capabilities whose result may be served from cache;
// anything that mutates ERP state must leave it false.
type Capability struct {
	Name        string
	Description string
	Idempotent  bool
	Handler     Handler
}

// Registry is an immutable, name-keyed capability set. Build it once at
// startup; concurrent dispatch reads it without locking.
type Registry struct {
	caps map[string]Capability
}

// NewRegistry builds a registry, rejecting duplicate capability names.
func NewRegistry(caps ...Capability) (*Registry, error) {
	m := make(map[string]Capability, len(caps))
	for _, c := range caps {
		if c.Name == "" || c.Handler == nil {
			return nil, pilotErrors.New(pilotErrors.CodeInvalidInput,
				fmt.Sprintf("capability %q is incomplete", c.Name), nil)
		}
		if _, dup := m[c.Name]; dup {
			return nil, pilotErrors.New(pilotErrors.CodeInvalidInput,
				fmt.Sprintf("duplicate capability %q", c.Name), nil)
		}
		m[c.Name] = c
	}
	return &Registry{caps: m}, nil
}

// Get looks up a capability by name.
func (r *Registry) Get(name string) (Capability, bool) {
	c, ok := r.caps[name]
	return c, ok
}

// Names returns all registered capability names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status classifies a dispatch outcome.
type Status string

const (
	StatusOK      Status = "ok"
	StatusDenied  Status = "denied"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown" // capability not registered
)

// Outcome is the structured result of one dispatch. Dispatch never returns a
// Go error or panics; failures are folded into the outcome so the pipeline
// can degrade instead of aborting.
type Outcome struct {
	Capability string
	Status     Status
	Result     any
	Reason     string
	Idempotent bool
	Duration   time.Duration
}

// Dispatcher executes capabilities after re-checking authorization against
// the active policy. The orchestrator pre-filters capabilities per role, but
// the policy may have been reloaded between selection and execution.
type Dispatcher struct {
	registry *Registry
	table    *rbac.Table
	logger   *slog.Logger
	metrics  *telemetry.PipelineMetrics
	tracer   trace.Tracer
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry *Registry, table *rbac.Table, logger *slog.Logger, metrics *telemetry.PipelineMetrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		table:    table,
		logger:   logger,
		metrics:  metrics,
		tracer:   otel.Tracer("erpilot/tool"),
	}
}

// AllowedFor returns the capabilities the role may use, as the intersection
// of the registry and the active policy.
func (d *Dispatcher) AllowedFor(role string) []Capability {
	var out []Capability
	for _, name := range d.table.AllowedCapabilities(role) {
		if c, ok := d.registry.Get(name); ok {
			out = append(out, c)
		}
	}
	return out
}

// Execute runs one capability for the given role.
func (d *Dispatcher) Execute(ctx context.Context, role, name string, args Args) (out Outcome) {
	start := time.Now()
	out = Outcome{Capability: name}

	ctx, span := d.tracer.Start(ctx, "Dispatcher.Execute")
	defer func() {
		out.Duration = time.Since(start)
		if r := recover(); r != nil {
			out.Status = StatusError
			out.Result = nil
			out.Reason = fmt.Sprintf("capability panicked: %v", r)
			d.logger.ErrorContext(ctx, "capability panic recovered",
				"capability", name, "panic", r)
		}
		span.SetAttributes(telemetry.ToolAttrs(name, role, string(out.Status), out.Duration.Milliseconds())...)
		span.End()
		d.metrics.RecordQuery(ctx, "tool:"+name, string(out.Status))
	}()

	cap, ok := d.registry.Get(name)
	if !ok {
		out.Status = StatusUnknown
		out.Reason = fmt.Sprintf("unknown capability %q", name)
		return out
	}
	out.Idempotent = cap.Idempotent

	if decision := d.table.IsAuthorized(role, name); !decision.Allowed {
		out.Status = StatusDenied
		out.Reason = decision.Reason
		d.logger.WarnContext(ctx, "capability denied",
			"capability", name, "role", decision.Role)
		return out
	}

	result, err := cap.Handler(ctx, args)
	if err != nil {
		out.Status = StatusError
		out.Reason = err.Error()
		d.metrics.RecordError(ctx, err, "tool")
		d.logger.ErrorContext(ctx, "capability failed",
			"capability", name, "error", err)
		return out
	}

	out.Status = StatusOK
	out.Result = result
	return out
}
