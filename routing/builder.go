package routing

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"github.com/zalando/routekeeper/audit"
	"github.com/zalando/routekeeper/builtin"
	"github.com/zalando/routekeeper/condition"
	"github.com/zalando/routekeeper/endpoints"
	"github.com/zalando/routekeeper/filters"
	"github.com/zalando/routekeeper/heap"
	"github.com/zalando/routekeeper/logging"
	"github.com/zalando/routekeeper/metrics"
	"github.com/zalando/routekeeper/session"
)

const (
	// DefaultBasePath of the router management surface.
	DefaultBasePath = "/_router"

	// MonitoringEndpoint is the name of the monitoring endpoint in the
	// namespace of the monitored routes.
	MonitoringEndpoint = "monitoring"

	fieldName         = "name"
	fieldHandler      = "handler"
	fieldCondition    = "condition"
	fieldSession      = "session"
	fieldAuditService = "auditService"
	fieldMonitor      = "monitor"
	fieldHeap         = "heap"
	fieldProperties   = "properties"
)

// BuilderOptions are used to create a Builder.
type BuilderOptions struct {

	// Heap of the router. The heaps of the routes are its children. When
	// not set, a heap with the built-in object types is used.
	Heap *heap.Heap

	// Endpoints registry for the namespaces of the routes. When not set,
	// a registry under DefaultBasePath is used.
	Endpoints *endpoints.Registry

	Log logging.Logger
}

// Builder creates routes from their configuration.
type Builder struct {
	heap      *heap.Heap
	endpoints *endpoints.Registry
	log       logging.Logger
}

type monitorConfig struct {
	enabled     bool
	percentiles []float64
}

// NewBuilder creates a route builder.
func NewBuilder(o BuilderOptions) *Builder {
	if o.Heap == nil {
		o.Heap = heap.New(heap.Options{Name: "router", Registry: builtin.MakeRegistry()})
	}

	if o.Endpoints == nil {
		o.Endpoints = endpoints.NewRegistry(DefaultBasePath + "/routes")
	}

	return &Builder{
		heap:      o.Heap,
		endpoints: o.Endpoints,
		log:       logging.OrDefault(o.Log, "routing"),
	}
}

// Heap returns the heap of the router.
func (b *Builder) Heap() *heap.Heap { return b.heap }

// Endpoints returns the endpoints registry of the routes.
func (b *Builder) Endpoints() *endpoints.Registry { return b.endpoints }

func readProperties(v gjson.Result) (map[string]string, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}

	if !v.IsObject() {
		return nil, errors.New("properties must be an object")
	}

	props := make(map[string]string)
	v.ForEach(func(key, value gjson.Result) bool {
		props[key.String()] = value.String()
		return true
	})

	return props, nil
}

func readDeclarations(v gjson.Result) ([]heap.Declaration, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}

	if !v.IsArray() {
		return nil, errors.New("heap must be an array of declarations")
	}

	var decls []heap.Declaration
	if err := json.Unmarshal([]byte(v.Raw), &decls); err != nil {
		return nil, fmt.Errorf("invalid heap: %w", err)
	}

	return decls, nil
}

func readMonitor(v gjson.Result) (monitorConfig, error) {
	var c monitorConfig
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return c, nil
	case v.IsBool():
		c.enabled = v.Bool()
		return c, nil
	case !v.IsObject():
		return c, errors.New("monitor must be a boolean or an object")
	}

	c.enabled = true
	if enabled := v.Get("enabled"); enabled.Exists() {
		if !enabled.IsBool() {
			return c, errors.New("monitor.enabled must be a boolean")
		}

		c.enabled = enabled.Bool()
	}

	if ps := v.Get("percentiles"); ps.Exists() {
		if !ps.IsArray() {
			return c, errors.New("monitor.percentiles must be an array")
		}

		for _, p := range ps.Array() {
			if p.Type != gjson.Number || p.Float() <= 0 || p.Float() >= 1 {
				return c, fmt.Errorf("invalid percentile: %s", p.Raw)
			}

			c.percentiles = append(c.percentiles, p.Float())
		}
	}

	return c, nil
}

func resolveOptional[T any](h *heap.Heap, v gjson.Result, field string) (T, bool, error) {
	var zero T
	if !v.Exists() || v.Type == gjson.Null {
		return zero, false, nil
	}

	o, err := heap.ResolveAs[T](h, json.RawMessage(v.Raw))
	if err != nil {
		return zero, false, wrapInvalidDefinitionReason(ErrInvalidReference, fmt.Errorf("%s: %w", field, err))
	}

	return o, true, nil
}

// Build creates a route from its configuration. When name is empty, the
// name field of the configuration is used, and when that is missing too,
// the id. The returned errors are of type *BuildError.
func (b *Builder) Build(id, name string, config []byte) (*Route, error) {
	r, err := b.build(id, name, config)
	if err != nil {
		return nil, &BuildError{RouteID: id, Err: err}
	}

	return r, nil
}

func (b *Builder) build(id, name string, config []byte) (r *Route, err error) {
	if !gjson.ValidBytes(config) {
		return nil, wrapInvalidDefinitionReason(ErrInvalidConfig, errors.New("malformed JSON"))
	}

	doc := gjson.ParseBytes(config)
	if !doc.IsObject() {
		return nil, wrapInvalidDefinitionReason(ErrInvalidConfig, errors.New("configuration must be an object"))
	}

	fields := doc.Map()
	props, err := readProperties(fields[fieldProperties])
	if err != nil {
		return nil, wrapInvalidDefinitionReason(ErrInvalidConfig, err)
	}

	decls, err := readDeclarations(fields[fieldHeap])
	if err != nil {
		return nil, wrapInvalidDefinitionReason(ErrInvalidConfig, err)
	}

	if name == "" {
		if n := fields[fieldName]; n.Exists() {
			if n.Type != gjson.String {
				return nil, wrapInvalidDefinitionReason(ErrInvalidConfig, errors.New("name must be a string"))
			}

			name = n.String()
		}
	}

	if name == "" {
		name = id
	}

	// the namespace is known by the objects of the route before they are
	// created, but it is reachable only after the route was started
	ns := b.endpoints.Namespace(id)
	h := heap.New(heap.Options{
		Name:       "route " + id,
		Parent:     b.heap,
		Endpoint:   ns,
		Properties: props,
	})

	var (
		monitor *metrics.RouteMonitor
		cond    *condition.Condition
	)

	defer func() {
		if err != nil {
			if cond != nil {
				cond.Close()
			}

			if monitor != nil {
				monitor.Close()
			}

			if derr := h.Destroy(); derr != nil {
				b.log.Errorf("route %s: failed to release the objects of a failed build: %v", id, derr)
			}
		}
	}()

	if err := h.Declare(decls...); err != nil {
		return nil, wrapInvalidDefinitionReason(ErrInvalidConfig, err)
	}

	if c := fields[fieldCondition]; c.Exists() && c.Type != gjson.Null {
		if c.Type != gjson.String {
			return nil, wrapInvalidDefinitionReason(ErrInvalidCondition, errors.New("condition must be a string"))
		}

		cond, err = condition.Compile(c.String())
		if err != nil {
			return nil, wrapInvalidDefinitionReason(ErrInvalidCondition, err)
		}
	}

	mc, err := readMonitor(fields[fieldMonitor])
	if err != nil {
		return nil, wrapInvalidDefinitionReason(ErrInvalidMonitor, err)
	}

	sessionManager, hasSession, err := resolveOptional[session.Manager](h, fields[fieldSession], fieldSession)
	if err != nil {
		return nil, err
	}

	auditService, hasAudit, err := resolveOptional[audit.Service](h, fields[fieldAuditService], fieldAuditService)
	if err != nil {
		return nil, err
	}

	hv := fields[fieldHandler]
	if !hv.Exists() || hv.Type == gjson.Null {
		return nil, ErrMissingHandler
	}

	handler, err := heap.ResolveAs[http.Handler](h, json.RawMessage(hv.Raw))
	if err != nil {
		return nil, wrapInvalidDefinitionReason(ErrInvalidReference, fmt.Errorf("handler: %w", err))
	}

	var chain []filters.Filter
	if mc.enabled {
		monitor = metrics.NewRouteMonitor(mc.percentiles)
		ns.Handle(MonitoringEndpoint, monitor)
		chain = append(chain, monitor)
	}

	if hasAudit {
		chain = append(chain, audit.Filter(auditService, id, name))
	}

	if hasSession {
		chain = append(chain, session.Filter(sessionManager, b.log))
	}

	chain = append(chain, filters.ContainFaults(id, b.log), filters.LogAbsentResponse(id, b.log))

	hooks := Hooks{
		OnStart: func() error {
			b.endpoints.Mount(ns)
			return nil
		},
		OnDestroy: func() {
			b.endpoints.Unmount(ns)
			if cond != nil {
				cond.Close()
			}

			if monitor != nil {
				monitor.Close()
			}

			if err := h.Destroy(); err != nil {
				b.log.Errorf("route %s: failed to release objects: %v", id, err)
			}
		},
	}

	return NewRoute(id, name, config, cond, filters.Chain(handler, chain...), hooks, b.log), nil
}
