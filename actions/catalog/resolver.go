// Package catalog loads the designer-authored action definitions that drive
// the turn-resolution runtime. Definitions live in JSON on disk, are
// validated against the contract package at load time, and are read-only
// once the match is running.
package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"netwar/server/actions/contract"
)

type source interface {
	Load() ([]byte, error)
	Path() string
}

type fileSource struct {
	path string
}

func (f fileSource) Load() ([]byte, error) {
	return os.ReadFile(f.path)
}

func (f fileSource) Path() string {
	return f.path
}

// MemorySource feeds the resolver from an in-memory document. Tests use it
// to avoid touching the filesystem.
type MemorySource struct {
	Name string
	Data []byte
}

func (m MemorySource) Load() ([]byte, error) {
	return m.Data, nil
}

func (m MemorySource) Path() string {
	if m.Name == "" {
		return "<memory>"
	}
	return m.Name
}

// Resolver merges one or more catalog sources into a stable lookup table.
// Call Reload to pick up on-disk changes (used for dev hot reload).
type Resolver struct {
	mu      sync.RWMutex
	sources []source
	defs    map[string]contract.ActionDefinition
	order   []string
}

// DefaultPaths returns the canonical catalog locations relative to the
// server module root. Callers may pass these to Load.
func DefaultPaths() []string {
	return []string{
		filepath.Join("config", "actions", "definitions.json"),
		filepath.Join("..", "config", "actions", "definitions.json"),
	}
}

// Load constructs a Resolver backed by catalog files at the given paths.
// Missing files are skipped so DefaultPaths can list fallbacks.
func Load(paths ...string) (*Resolver, error) {
	sources := make([]source, 0, len(paths))
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		sources = append(sources, fileSource{path: trimmed})
	}
	return NewResolver(sources...)
}

// NewResolver constructs a Resolver from arbitrary sources. Later sources
// override earlier ones to support local overlays during development.
func NewResolver(sources ...source) (*Resolver, error) {
	r := &Resolver{
		sources: append([]source(nil), sources...),
		defs:    make(map[string]contract.ActionDefinition),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-parses all catalog sources and revalidates the merged registry.
func (r *Resolver) Reload() error {
	if r == nil {
		return nil
	}
	defs := make(map[string]contract.ActionDefinition)
	order := make([]string, 0)
	loaded := 0
	for _, src := range r.sources {
		data, err := src.Load()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("catalog: failed loading %s: %w", src.Path(), err)
		}
		loaded++
		documents, err := decodeDefinitions(data)
		if err != nil {
			return fmt.Errorf("catalog: failed parsing %s: %w", src.Path(), err)
		}
		for _, def := range documents {
			id := strings.TrimSpace(def.ID)
			if id == "" {
				return fmt.Errorf("catalog: entry missing id in %s", src.Path())
			}
			if _, exists := defs[id]; !exists {
				order = append(order, id)
			}
			defs[id] = def
		}
	}
	if loaded == 0 {
		return fmt.Errorf("catalog: no catalog source could be read")
	}

	merged := make(contract.Registry, 0, len(order))
	for _, id := range order {
		merged = append(merged, defs[id])
	}
	if err := merged.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.defs = defs
	r.order = order
	r.mu.Unlock()
	return nil
}

// Resolve returns the action definition for the provided id.
func (r *Resolver) Resolve(id string) (contract.ActionDefinition, bool) {
	if r == nil {
		return contract.ActionDefinition{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def, ok
}

// Definitions returns every definition in catalog order.
func (r *Resolver) Definitions() []contract.ActionDefinition {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]contract.ActionDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}
	return out
}

// ByRole returns the definitions a role may perform, sorted by id. The
// client action menu is built from this listing.
func (r *Resolver) ByRole(role contract.TeamRole) []contract.ActionDefinition {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]contract.ActionDefinition, 0)
	for _, def := range r.defs {
		if def.Role == role {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// decodeDefinitions accepts either the canonical array format or an object
// keyed by definition id.
func decodeDefinitions(data []byte) ([]contract.ActionDefinition, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var defs []contract.ActionDefinition
		if err := json.Unmarshal(trimmed, &defs); err != nil {
			return nil, err
		}
		return defs, nil
	case '{':
		var object map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &object); err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(object))
		for id := range object {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		defs := make([]contract.ActionDefinition, 0, len(object))
		for _, id := range ids {
			var def contract.ActionDefinition
			if err := json.Unmarshal(object[id], &def); err != nil {
				return nil, fmt.Errorf("entry %q: %w", id, err)
			}
			if def.ID == "" {
				def.ID = id
			}
			defs = append(defs, def)
		}
		return defs, nil
	}
	return nil, fmt.Errorf("unsupported catalog document (must be array or object)")
}
