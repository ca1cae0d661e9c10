package routing

import (
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/zalando/routekeeper/condition"
	"github.com/zalando/routekeeper/logging"
)

// State of the lifecycle of a route.
type State int

const (
	Built State = iota
	Started
	Destroyed
)

func (s State) String() string {
	switch s {
	case Built:
		return "built"
	case Started:
		return "started"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Hooks are called by the lifecycle transitions of a route.
type Hooks struct {
	OnStart   func() error
	OnDestroy func()
}

// Route is a request handling unit, created from one route
// configuration.
type Route struct {
	id        string
	name      string
	config    []byte
	condition *condition.Condition
	handler   http.Handler
	hooks     Hooks
	log       logging.Logger

	mu       sync.Mutex
	state    State
	inflight int
	released bool
}

// NewRoute creates a route in the Built state. The condition can be nil,
// in which case the route accepts every request.
func NewRoute(id, name string, config []byte, cond *condition.Condition, handler http.Handler, hooks Hooks, l logging.Logger) *Route {
	if name == "" {
		name = id
	}

	return &Route{
		id:        id,
		name:      name,
		config:    slices.Clone(config),
		condition: cond,
		handler:   handler,
		hooks:     hooks,
		log:       logging.OrDefault(l, "routing"),
	}
}

func (r *Route) Id() string   { return r.id }
func (r *Route) Name() string { return r.name }

// Config returns the raw configuration of the route.
func (r *Route) Config() []byte { return slices.Clone(r.config) }

// Condition returns the condition of the route or nil.
func (r *Route) Condition() *condition.Condition { return r.condition }

func (r *Route) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Accept tells whether the route handles the request. A failing
// condition does not accept the request.
func (r *Route) Accept(req *http.Request) bool {
	if r.condition == nil {
		return true
	}

	ok, err := r.condition.Eval(req)
	if err != nil {
		r.log.Errorf("route %s: %v", r.id, err)
		return false
	}

	return ok
}

// Start makes the route ready to handle requests. Starting a started
// route has no effect.
func (r *Route) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case Started:
		return nil
	case Destroyed:
		return fmt.Errorf("route %s: %w", r.id, errRouteDestroyed)
	}

	if r.hooks.OnStart != nil {
		if err := r.hooks.OnStart(); err != nil {
			return fmt.Errorf("failed to start route %s: %w", r.id, err)
		}
	}

	r.state = Started
	return nil
}

// Destroy releases the resources of the route. When requests acquired by
// the router are still in flight, the resources are released after the
// last one finished. Calling it more than once is safe.
func (r *Route) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Destroyed {
		return
	}

	r.state = Destroyed
	r.releaseIdle()
}

// acquire registers an in-flight request. It fails when the route was
// destroyed.
func (r *Route) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Destroyed {
		return false
	}

	r.inflight++
	return true
}

func (r *Route) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight--
	if r.state == Destroyed {
		r.releaseIdle()
	}
}

func (r *Route) releaseIdle() {
	if r.inflight > 0 || r.released {
		return
	}

	r.released = true
	if r.hooks.OnDestroy != nil {
		r.hooks.OnDestroy()
	}
}

func (r *Route) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Route) String() string {
	return fmt.Sprintf("%s (%s)", r.id, r.name)
}
