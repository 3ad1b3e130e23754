// Package handlers is the Tool Handlers component (C7): per-tool business
// logic that assembles a provider request, polls, persists an artifact, and
// emits usage. Handlers are modeled as a tagged union ("Handler
// polymorphism": Single(fn) | Multi(fn)) dispatched by toolSlug through a
// Registry, rather than duck-typed closures.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/funmagic-ai/magiworld-sub000/internal/artifacts"
	"github.com/funmagic-ai/magiworld-sub000/internal/catalog"
	"github.com/funmagic-ai/magiworld-sub000/internal/ledger"
	"github.com/funmagic-ai/magiworld-sub000/internal/providers"
	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

// Context is everything a handler function needs, assembled by the Worker
// Pool before dispatch.
type Context struct {
	context.Context

	TaskID       string
	OwnerKind    taskstore.OwnerKind
	OwnerID      string
	ToolSlug     string
	InputParams  json.RawMessage
	ToolConfig   catalog.Tool
	ParentTaskID *string

	Providers *providers.Registry
	Artifacts artifacts.Store
	Ledger    ledger.Ledger

	// ProgressSink reports pct in [0,100]; the worker envelope clamps
	// regressions before the Task Store/bus ever see them.
	ProgressSink func(pct int, message string)
}

// Result is what a handler returns on success.
type Result struct {
	OutputData json.RawMessage
	UsageData  json.RawMessage
}

// Handler is the tagged union `Single(fn) | Multi(fn)`. Exactly one of
// Single/Multi is non-nil.
type Handler struct {
	Single func(ctx *Context) (Result, error)
	Multi  func(ctx *Context) (Result, error) // reads ctx.InputParams.step internally
}

// IsMulti reports whether h is a multi-step handler.
func (h Handler) IsMulti() bool { return h.Multi != nil }

// Invoke runs whichever of Single/Multi is set.
func (h Handler) Invoke(ctx *Context) (Result, error) {
	if h.Multi != nil {
		return h.Multi(ctx)
	}
	if h.Single != nil {
		return h.Single(ctx)
	}
	return Result{}, fmt.Errorf("handlers: empty Handler (neither Single nor Multi set) for tool %q", ctx.ToolSlug)
}

// Registry maps toolSlug to a registered Handler, process-wide.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry builds a Registry from a slug->Handler map.
func NewRegistry(handlers map[string]Handler) *Registry {
	return &Registry{handlers: handlers}
}

// Resolve looks up the handler for slug.
func (r *Registry) Resolve(slug string) (Handler, bool) {
	h, ok := r.handlers[slug]
	return h, ok
}

// Slugs returns every registered slug, for catalog/handler mismatch checks.
func (r *Registry) Slugs() map[string]bool {
	out := make(map[string]bool, len(r.handlers))
	for slug := range r.handlers {
		out[slug] = true
	}
	return out
}
