package output

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Errors returned by Registry operations.
var (
	// ErrNotFound means no output type is registered under the given id.
	ErrNotFound = errors.New("output type not found")
	// ErrConstructionFailed means the type's constructor returned no
	// backing handler.
	ErrConstructionFailed = errors.New("output construction failed")
)

// Registry maps output type ids to their descriptors and tracks every
// live output instance. Both maps are guarded by one mutex, held only for
// the map mutation itself.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	types   map[string]*Descriptor
	outputs map[uuid.UUID]*Output
}

// NewRegistry creates an empty Registry. If log is nil, slog.Default()
// is used.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:     log.With("component", "output-registry"),
		types:   make(map[string]*Descriptor),
		outputs: make(map[uuid.UUID]*Output),
	}
}

// RegisterType adds an output type descriptor. It fails if the id is
// empty, already taken, or the descriptor has no constructor.
func (r *Registry) RegisterType(d *Descriptor) error {
	if d == nil || d.TypeID == "" {
		return fmt.Errorf("register type: empty type id")
	}
	if d.New == nil {
		return fmt.Errorf("register type %q: nil constructor", d.TypeID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[d.TypeID]; ok {
		return fmt.Errorf("register type %q: already registered", d.TypeID)
	}
	r.types[d.TypeID] = d
	return nil
}

// Lookup returns the descriptor registered under typeID.
func (r *Registry) Lookup(typeID string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[typeID]
	return d, ok
}

// Defaults returns a fresh Settings seeded with the type's defaults, or
// ErrNotFound for an unknown id.
func (r *Registry) Defaults(typeID string) (*Settings, error) {
	d, ok := r.Lookup(typeID)
	if !ok {
		return nil, fmt.Errorf("defaults for %q: %w", typeID, ErrNotFound)
	}
	s := NewSettings()
	if d.Defaults != nil {
		d.Defaults(s)
	}
	return s, nil
}

// New creates an output instance of the given type. The caller's settings
// are cloned (nil means empty), seeded with the type's defaults, and
// handed to the type constructor, which may mutate them further. On any
// failure all partially-allocated state is released and no registration
// survives.
func (r *Registry) New(typeID, name string, settings *Settings) (*Output, error) {
	d, ok := r.Lookup(typeID)
	if !ok {
		r.log.Error("output type not found", "type", typeID)
		return nil, fmt.Errorf("create %q: %w", typeID, ErrNotFound)
	}

	s := settings.Clone()
	if d.Defaults != nil {
		d.Defaults(s)
	}

	o := &Output{
		id:       uuid.New(),
		name:     name,
		desc:     d,
		registry: r,
		settings: s,
		log:      r.log.With("output", name, "type", typeID),
	}

	handler, err := d.New(s, o)
	if err != nil || handler == nil {
		o.log.Error("constructor failed", "error", err)
		if err != nil {
			return nil, fmt.Errorf("create %q: %w: %w", typeID, ErrConstructionFailed, err)
		}
		return nil, fmt.Errorf("create %q: %w", typeID, ErrConstructionFailed)
	}
	o.handler = handler

	r.mu.Lock()
	r.outputs[o.id] = o
	r.mu.Unlock()

	o.valid = true
	o.log.Info("output created")
	return o, nil
}

// Get returns the live output with the given id.
func (r *Registry) Get(id uuid.UUID) (*Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.outputs[id]
	return o, ok
}

// List returns all live outputs.
func (r *Registry) List() []*Output {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Output, 0, len(r.outputs))
	for _, o := range r.outputs {
		out = append(out, o)
	}
	return out
}

// remove erases a destroyed output from the live set.
func (r *Registry) remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.outputs, id)
	r.mu.Unlock()
}
