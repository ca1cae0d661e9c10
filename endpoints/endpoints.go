/*
Package endpoints implements the registry of the externally visible
endpoints that routes expose, e.g. their monitoring data.

Every route owns one namespace, named after the route id. A namespace is
created as a placeholder first, so that the objects of a route can learn
their own public path while the route is still being constructed, and it
becomes reachable only when it is mounted in the registry. A mounted
namespace can be unmounted only by its owner, which lets a replacing route
take over the name of the route it replaces, before the old one is
destroyed.

Paths served by the registry:

	<base>/<namespace>/<endpoint>[/<rest>]
*/
package endpoints

import (
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
)

// Namespace holds the endpoints of a single route.
type Namespace struct {
	name     string
	path     string
	mu       sync.RWMutex
	handlers map[string]http.Handler
}

// Registry dispatches to the mounted namespaces.
type Registry struct {
	base    string
	mu      sync.RWMutex
	mounted map[string]*Namespace
}

// NewRegistry creates a registry serving namespaces under the base path.
func NewRegistry(base string) *Registry {
	base = "/" + strings.Trim(base, "/")
	return &Registry{
		base:    strings.TrimSuffix(base, "/"),
		mounted: make(map[string]*Namespace),
	}
}

// Base returns the path under which the registry serves its namespaces.
func (r *Registry) Base() string {
	return r.base
}

// Namespace creates an unmounted placeholder namespace. It is not
// reachable until Mount is called with it.
func (r *Registry) Namespace(name string) *Namespace {
	return &Namespace{
		name:     name,
		path:     path.Join(r.base, name),
		handlers: make(map[string]http.Handler),
	}
}

// Mount makes the namespace reachable, replacing any other namespace
// mounted with the same name.
func (r *Registry) Mount(ns *Namespace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mounted[ns.name] = ns
}

// Unmount removes the namespace, but only when it is the one currently
// mounted with its name. It returns whether removal happened.
func (r *Registry) Unmount(ns *Namespace) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mounted[ns.name] != ns {
		return false
	}

	delete(r.mounted, ns.name)
	return true
}

// Lookup returns the mounted namespace with the name.
func (r *Registry) Lookup(name string) (*Namespace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.mounted[name]
	return ns, ok
}

// Names returns the sorted names of the mounted namespaces.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.mounted))
	for name := range r.mounted {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

func splitPath(p string) (string, string) {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i], p[i:]
	}

	return p, ""
}

func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	rest, ok := strings.CutPrefix(req.URL.Path, r.base)
	if !ok || rest != "" && rest[0] != '/' {
		http.NotFound(w, req)
		return
	}

	name, rest := splitPath(rest)
	ns, ok := r.Lookup(name)
	if !ok {
		http.NotFound(w, req)
		return
	}

	ns.serve(w, req, rest)
}

// Name returns the name of the namespace.
func (ns *Namespace) Name() string { return ns.name }

// Path returns the public path of the namespace. It is known before the
// namespace is mounted.
func (ns *Namespace) Path() string { return ns.path }

// EndpointPath returns the public path of an endpoint in the namespace.
func (ns *Namespace) EndpointPath(endpoint string) string {
	return path.Join(ns.path, endpoint)
}

// Handle registers an endpoint in the namespace. It can be called before
// or after the namespace is mounted.
func (ns *Namespace) Handle(endpoint string, h http.Handler) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.handlers[endpoint] = h
}

// Endpoints returns the sorted names of the registered endpoints.
func (ns *Namespace) Endpoints() []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	names := make([]string, 0, len(ns.handlers))
	for name := range ns.handlers {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

func (ns *Namespace) serve(w http.ResponseWriter, r *http.Request, p string) {
	endpoint, _ := splitPath(p)
	ns.mu.RLock()
	h, ok := ns.handlers[endpoint]
	ns.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	h.ServeHTTP(w, r)
}
