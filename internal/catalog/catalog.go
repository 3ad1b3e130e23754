// Package catalog is the Tool Catalog (C3): a mapping from toolSlug to
// handler binding, per-step config, and pricing. Configuration changes take
// effect only for newly intaken tasks (each task snapshots the resolved Tool
// at creation) — the catalog itself is reloadable via fsnotify file-watching,
// so config edits take effect without a process restart.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Step is one stage of a multi-step tool's configJson.steps.
type Step struct {
	Name     string          `json:"name"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// PriceConfig is an opaque per-tool pricing snapshot, interpreted by the Ledger.
type PriceConfig json.RawMessage

// ToolType distinguishes single-step from multi-step tools.
type ToolType string

const (
	ToolTypeSingleStep ToolType = "single-step"
	ToolTypeMultiStep  ToolType = "multi-step"
)

// Tool is one catalog entry.
type Tool struct {
	Slug        string      `json:"slug"`
	ToolType    ToolType    `json:"toolType"`
	Steps       []Step      `json:"steps"`
	PriceConfig PriceConfig `json:"priceConfig"`
	Active      bool        `json:"active"`
}

// Catalog is a hot-reloadable snapshot of every registered Tool.
type Catalog struct {
	path string

	mu    sync.RWMutex
	tools map[string]Tool

	logger *slog.Logger
}

// Load reads path once and starts an fsnotify watcher that reloads on write,
// trusting the filesystem as the source of truth for non-secret configuration.
func Load(path string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{path: path, logger: logger}
	if err := c.reload(); err != nil {
		return nil, err
	}
	go c.watch()
	return c, nil
}

func (c *Catalog) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("catalog: read %s: %w", c.path, err)
	}
	var tools []Tool
	if err := json.Unmarshal(data, &tools); err != nil {
		return fmt.Errorf("catalog: parse %s: %w", c.path, err)
	}
	byslug := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byslug[t.Slug] = t
	}
	c.mu.Lock()
	c.tools = byslug
	c.mu.Unlock()
	return nil
}

func (c *Catalog) watch() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Error("catalog: failed to start watcher", slog.Any("err", err))
		return
	}
	defer watcher.Close()
	if err := watcher.Add(c.path); err != nil {
		c.logger.Error("catalog: failed to watch file", slog.String("path", c.path), slog.Any("err", err))
		return
	}
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := c.reload(); err != nil {
					c.logger.Error("catalog: reload failed, keeping previous snapshot", slog.Any("err", err))
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Error("catalog: watcher error", slog.Any("err", err))
		}
	}
}

// Resolve returns the Tool registered for slug, or ok=false if absent or inactive.
func (c *Catalog) Resolve(slug string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[slug]
	if !ok || !t.Active {
		return Tool{}, false
	}
	return t, true
}

// CheckRegisteredHandlers warns (does not fail) for every catalog slug that
// has no matching entry in handlerSlugs.
func (c *Catalog) CheckRegisteredHandlers(handlerSlugs map[string]bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for slug := range c.tools {
		if !handlerSlugs[slug] {
			c.logger.Warn("catalog: tool has no registered handler", slog.String("slug", slug))
		}
	}
}
