/*
Package heap implements the construction scopes of the router: named
object declarations that are instantiated on first use, from specs
registered by type name.

A heap can have a parent. Lookups that cannot be satisfied by a heap are
delegated to its parent, so the declarations of the router are visible in
every route, while the declarations of a route can shadow them.

Declaration format:

	{"name": "backend", "type": "ReverseProxyHandler", "config": {"baseURI": "http://localhost:8080"}}

A reference to an object is either the name of a declaration, or an inline
declaration, in which case the name is optional.

Objects implementing io.Closer are closed, in reverse order of creation,
when the heap that created them is destroyed.
*/
package heap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/zalando/routekeeper/endpoints"
)

var (
	ErrNotFound         = errors.New("object not found")
	ErrUnknownType      = errors.New("unknown object type")
	ErrInvalidReference = errors.New("invalid reference")
	ErrDuplicate        = errors.New("duplicate declaration")
	ErrCycle            = errors.New("reference cycle")
	ErrDestroyed        = errors.New("heap destroyed")
	ErrWrongType        = errors.New("object of unexpected type")
)

// Spec creates objects of a type.
type Spec interface {

	// Name of the type, as used in the declarations.
	Name() string

	// Create an object from its configuration. The heap can be used to
	// resolve the references found in the configuration.
	Create(h *Heap, config json.RawMessage) (any, error)
}

// Registry maps type names to specs.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

// Declaration of a named object.
type Declaration struct {
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Options to create a heap.
type Options struct {

	// Name is used in the error messages.
	Name string

	// Parent heap. Lookups not satisfied locally are delegated to it.
	Parent *Heap

	// Registry of the object types. When not set, the registry of the
	// parent is used.
	Registry *Registry

	// Endpoint namespace of the route that owns the heap. When not set,
	// the namespace of the parent is used.
	Endpoint *endpoints.Namespace

	// Properties available for expansion in the object configs.
	Properties map[string]string
}

// Heap is a construction scope.
type Heap struct {
	name       string
	parent     *Heap
	registry   *Registry
	endpoint   *endpoints.Namespace
	properties map[string]string

	mu        sync.Mutex
	decls     map[string]Declaration
	objects   map[string]any
	creating  map[string]bool
	created   []any
	destroyed bool
}

// NewRegistry creates a registry with the specs.
func NewRegistry(specs ...Spec) *Registry {
	r := &Registry{specs: make(map[string]Spec)}
	r.Register(specs...)
	return r
}

// Register adds specs, replacing the ones with the same name.
func (r *Registry) Register(specs ...Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range specs {
		r.specs[s.Name()] = s
	}
}

// Get returns the spec registered with the name.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// New creates a heap.
func New(o Options) *Heap {
	if o.Registry == nil && o.Parent != nil {
		o.Registry = o.Parent.registry
	}

	if o.Registry == nil {
		o.Registry = NewRegistry()
	}

	if o.Endpoint == nil && o.Parent != nil {
		o.Endpoint = o.Parent.endpoint
	}

	return &Heap{
		name:       o.Name,
		parent:     o.Parent,
		registry:   o.Registry,
		endpoint:   o.Endpoint,
		properties: o.Properties,
		decls:      make(map[string]Declaration),
		objects:    make(map[string]any),
		creating:   make(map[string]bool),
	}
}

// Name returns the name of the heap.
func (h *Heap) Name() string { return h.name }

// Parent returns the parent heap, or nil.
func (h *Heap) Parent() *Heap { return h.parent }

// Endpoint returns the endpoint namespace of the owning route, or nil.
func (h *Heap) Endpoint() *endpoints.Namespace { return h.endpoint }

// Declare adds declarations. The declarations are instantiated on first
// lookup.
func (h *Heap) Declare(decls ...Declaration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return fmt.Errorf("%s: %w", h.name, ErrDestroyed)
	}

	for _, d := range decls {
		if d.Name == "" {
			return fmt.Errorf("%s: declaration without name: %w", h.name, ErrInvalidReference)
		}

		if d.Type == "" {
			return fmt.Errorf("%s: declaration %q without type: %w", h.name, d.Name, ErrInvalidReference)
		}

		if _, exists := h.decls[d.Name]; exists {
			return fmt.Errorf("%s: %q: %w", h.name, d.Name, ErrDuplicate)
		}

		if _, exists := h.objects[d.Name]; exists {
			return fmt.Errorf("%s: %q: %w", h.name, d.Name, ErrDuplicate)
		}

		h.decls[d.Name] = d
	}

	return nil
}

// Put binds an already created object with a name. The heap does not own
// the object and does not close it.
func (h *Heap) Put(name string, object any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.destroyed {
		h.objects[name] = object
	}
}

// Property returns the value of a property, looking it up through the
// parent chain.
func (h *Heap) Property(name string) (string, bool) {
	for c := h; c != nil; c = c.parent {
		if v, ok := c.properties[name]; ok {
			return v, true
		}
	}

	return "", false
}

// Expand replaces the &{name} placeholders with the values of the
// properties. Unknown properties are left in place.
func (h *Heap) Expand(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "&{")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}

		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}

		end += start
		b.WriteString(s[:start])
		if v, ok := h.Property(s[start+2 : end]); ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : end+1])
		}

		s = s[end+1:]
	}
}

// Get returns the object with the name, instantiating its declaration
// when necessary.
func (h *Heap) Get(name string) (any, error) {
	for c := h; c != nil; c = c.parent {
		o, found, err := c.local(name)
		if err != nil || found {
			return o, err
		}
	}

	return nil, fmt.Errorf("%s: %q: %w", h.name, name, ErrNotFound)
}

func (h *Heap) local(name string) (any, bool, error) {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return nil, false, fmt.Errorf("%s: %w", h.name, ErrDestroyed)
	}

	if o, ok := h.objects[name]; ok {
		h.mu.Unlock()
		return o, true, nil
	}

	d, ok := h.decls[name]
	if !ok {
		h.mu.Unlock()
		return nil, false, nil
	}

	if h.creating[name] {
		h.mu.Unlock()
		return nil, true, fmt.Errorf("%s: %q: %w", h.name, name, ErrCycle)
	}

	h.creating[name] = true
	h.mu.Unlock()

	// the lock is not held while creating, the spec may resolve further
	// references in this heap
	o, err := h.create(d)

	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.creating, name)
	if err != nil {
		return nil, true, err
	}

	if h.destroyed {
		return nil, true, fmt.Errorf("%s: %w", h.name, ErrDestroyed)
	}

	h.objects[name] = o
	return o, true, nil
}

func (h *Heap) create(d Declaration) (any, error) {
	s, ok := h.registry.Get(d.Type)
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w: %s", h.name, d.Name, ErrUnknownType, d.Type)
	}

	config := d.Config
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}

	o, err := s.Create(h, config)
	if err != nil {
		name := d.Name
		if name == "" {
			name = "<inline " + d.Type + ">"
		}

		return nil, fmt.Errorf("%s: failed to create %q: %w", h.name, name, err)
	}

	h.mu.Lock()
	h.created = append(h.created, o)
	h.mu.Unlock()
	return o, nil
}

// Resolve returns the object of a reference: the name of a declaration as
// a JSON string, or an inline declaration as a JSON object. Named inline
// declarations are bound in the heap.
func (h *Heap) Resolve(ref json.RawMessage) (any, error) {
	ref = bytes.TrimSpace(ref)
	if len(ref) == 0 || bytes.Equal(ref, []byte("null")) {
		return nil, fmt.Errorf("%s: missing reference: %w", h.name, ErrInvalidReference)
	}

	switch ref[0] {
	case '"':
		var name string
		if err := json.Unmarshal(ref, &name); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", h.name, ErrInvalidReference, err)
		}

		return h.Get(name)
	case '{':
		var d Declaration
		if err := json.Unmarshal(ref, &d); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", h.name, ErrInvalidReference, err)
		}

		if d.Type == "" {
			return nil, fmt.Errorf("%s: inline declaration without type: %w", h.name, ErrInvalidReference)
		}

		if d.Name != "" {
			if err := h.Declare(d); err != nil {
				return nil, err
			}

			return h.Get(d.Name)
		}

		return h.create(d)
	default:
		return nil, fmt.Errorf("%s: %s: %w", h.name, ref, ErrInvalidReference)
	}
}

// ResolveAs resolves a reference and checks the type of the object.
func ResolveAs[T any](h *Heap, ref json.RawMessage) (T, error) {
	var zero T
	o, err := h.Resolve(ref)
	if err != nil {
		return zero, err
	}

	t, ok := o.(T)
	if !ok {
		return zero, fmt.Errorf("%s: %T: %w", h.name, o, ErrWrongType)
	}

	return t, nil
}

// GetAs returns the named object and checks its type.
func GetAs[T any](h *Heap, name string) (T, error) {
	var zero T
	o, err := h.Get(name)
	if err != nil {
		return zero, err
	}

	t, ok := o.(T)
	if !ok {
		return zero, fmt.Errorf("%s: %q is %T: %w", h.name, name, o, ErrWrongType)
	}

	return t, nil
}

// Destroy closes the objects created by the heap, in reverse order of
// creation. It does not touch the parent. Calling it more than once is
// safe.
func (h *Heap) Destroy() error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return nil
	}

	h.destroyed = true
	created := h.created
	h.created = nil
	h.objects = nil
	h.decls = nil
	h.mu.Unlock()

	var errs []error
	for i := len(created) - 1; i >= 0; i-- {
		if c, ok := created[i].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}
