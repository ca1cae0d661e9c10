package routing

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/zalando/routekeeper/logging"
	"github.com/zalando/routekeeper/metrics"
	"github.com/zalando/routekeeper/routedir"
)

// Comparator defines the order of the active routes, and with it the
// order in which they are asked to accept the requests.
type Comparator func(a, b *Route) int

// ByName orders the routes by name, and the ones with the same name by
// id.
func ByName(a, b *Route) int {
	if c := strings.Compare(a.name, b.name); c != 0 {
		return c
	}

	return strings.Compare(a.id, b.id)
}

// Options are used to create a Router.
type Options struct {

	// Monitor of the route directory. Required.
	Monitor *routedir.Monitor

	// Builder of the routes. When not set, one is created with the
	// options of the builder.
	Builder *Builder

	BuilderOptions

	// DefaultHandler serves the requests that no route accepts. When
	// not set, they get a 404 response.
	DefaultHandler http.Handler

	// Comparator of the active routes. Defaults to ByName.
	Comparator Comparator

	// Metrics of the router, optional.
	Metrics *metrics.RouterMetrics
}

// Router keeps the routes consistent with the route directory and
// dispatches the incoming requests to them.
type Router struct {
	monitor        *routedir.Monitor
	builder        *Builder
	defaultHandler http.Handler
	metrics        *metrics.RouterMetrics
	log            logging.Logger

	mu      sync.RWMutex
	byFile  map[string]*Route
	active  []*Route
	compare Comparator
	stopped bool
}

// Info describes an active route.
type Info struct {
	Id     string
	Name   string
	File   string
	Config []byte
}

// New creates a router. The routes are loaded by the scanners the router
// is registered with.
func New(o Options) *Router {
	if o.Monitor == nil {
		panic("routing: monitor required")
	}

	if o.Builder == nil {
		o.Builder = NewBuilder(o.BuilderOptions)
	}

	if o.Comparator == nil {
		o.Comparator = ByName
	}

	return &Router{
		monitor:        o.Monitor,
		builder:        o.Builder,
		defaultHandler: o.DefaultHandler,
		metrics:        o.Metrics,
		log:            logging.OrDefault(o.Log, "routing"),
		byFile:         make(map[string]*Route),
		compare:        o.Comparator,
	}
}

// Monitor returns the monitor of the route directory.
func (r *Router) Monitor() *routedir.Monitor { return r.monitor }

// Builder returns the builder of the routes.
func (r *Router) Builder() *Builder { return r.builder }

func (r *Router) build(id, name string, config []byte) (*Route, error) {
	rt, err := r.builder.Build(id, name, config)
	r.metrics.IncBuild(err == nil)
	var berr *BuildError
	if errors.As(err, &berr) {
		r.metrics.IncRejected(berr.Reason())
	}

	return rt, err
}

func (r *Router) conflicting(name string, except *Route) *Route {
	for _, a := range r.active {
		if a != except && a.name == name {
			return a
		}
	}

	return nil
}

func (r *Router) insertActive(rt *Route) {
	i, _ := slices.BinarySearchFunc(r.active, rt, r.compare)
	r.active = slices.Insert(r.active, i, rt)
}

func (r *Router) removeActive(rt *Route) {
	if i := slices.Index(r.active, rt); i >= 0 {
		r.active = slices.Delete(r.active, i, i+1)
	}
}

func (r *Router) updateGauge() {
	r.metrics.SetActiveRoutes(len(r.active))
}

// commitAdd activates a new route for the file. The candidate is
// destroyed when it cannot be activated.
func (r *Router) commitAdd(file string, candidate *Route) error {
	if c := r.conflicting(candidate.name, nil); c != nil {
		candidate.Destroy()
		r.metrics.IncRejected("name_conflict")
		return fmt.Errorf("%w: the name %q of route %s is used by route %s", ErrRouteConflict, candidate.name, candidate.id, c.id)
	}

	if err := candidate.Start(); err != nil {
		candidate.Destroy()
		r.metrics.IncRejected("start_failure")
		return err
	}

	r.byFile[file] = candidate
	r.insertActive(candidate)
	return nil
}

// commitReplace activates the candidate in place of the old route of the
// file. The old route stays active when the candidate cannot be
// activated.
func (r *Router) commitReplace(file string, old, candidate *Route) error {
	if c := r.conflicting(candidate.name, old); c != nil {
		candidate.Destroy()
		r.metrics.IncRejected("name_conflict")
		return fmt.Errorf("%w: the name %q of route %s is used by route %s", ErrRouteConflict, candidate.name, candidate.id, c.id)
	}

	if err := candidate.Start(); err != nil {
		candidate.Destroy()
		r.metrics.IncRejected("start_failure")
		return err
	}

	r.byFile[file] = candidate
	r.removeActive(old)
	r.insertActive(candidate)
	old.Destroy()
	return nil
}

func (r *Router) removeFile(file string) {
	rt, ok := r.byFile[file]
	if !ok {
		return
	}

	delete(r.byFile, file)
	r.removeActive(rt)
	rt.Destroy()
	r.log.Infof("route %s removed", rt.id)
}

func (r *Router) readAndBuild(file string) (*Route, error) {
	id := r.monitor.RouteIDOf(file)
	config, err := r.monitor.Read(id)
	if err != nil {
		return nil, fmt.Errorf("failed to read route file %s: %w", file, err)
	}

	return r.build(id, "", config)
}

func (r *Router) addFile(file string) {
	if _, ok := r.byFile[file]; ok {
		r.modifyFile(file)
		return
	}

	candidate, err := r.readAndBuild(file)
	if err != nil {
		r.log.Errorf("%v", err)
		return
	}

	if err := r.commitAdd(file, candidate); err != nil {
		r.log.Errorf("route %s rejected: %v", candidate.id, err)
		return
	}

	r.log.Infof("route %s added", candidate)
}

func (r *Router) modifyFile(file string) {
	old, ok := r.byFile[file]
	if !ok {
		// the file was not activated before, e.g. it was invalid
		r.addFile(file)
		return
	}

	candidate, err := r.readAndBuild(file)
	if err != nil {
		r.log.Errorf("%v, keeping the current version of route %s", err, old.id)
		return
	}

	if err := r.commitReplace(file, old, candidate); err != nil {
		r.log.Errorf("route %s rejected, keeping the current version: %v", candidate.id, err)
		return
	}

	r.log.Infof("route %s updated", candidate)
}

// OnChanges applies the changes of the route directory: it processes the
// removed files first, then the added ones, and finally the modified
// ones.
func (r *Router) OnChanges(c routedir.ChangeSet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		r.log.Debugf("router stopped, ignoring changes of %s", c.Directory())
		return
	}

	removed, added, modified := c.Removed(), c.Added(), c.Modified()
	r.metrics.AddChanges(len(added), len(modified), len(removed))

	for _, f := range removed {
		r.removeFile(f)
	}

	for _, f := range added {
		r.addFile(f)
	}

	for _, f := range modified {
		r.modifyFile(f)
	}

	r.updateGauge()
}

// ServeHTTP dispatches the request to the first active route that
// accepts it, or to the default handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var selected *Route

	// the selected route is acquired before the table can change, so that
	// it is not released while serving
	r.mu.RLock()
	for _, rt := range r.active {
		if rt.Accept(req) && rt.acquire() {
			selected = rt
			break
		}
	}
	r.mu.RUnlock()

	if selected != nil {
		defer selected.release()
		selected.ServeHTTP(w, req)
		return
	}

	if r.defaultHandler == nil {
		r.metrics.IncUnrouted()
		r.log.Errorf("no route accepted the request %s %s", req.Method, req.URL.Path)
		http.NotFound(w, req)
		return
	}

	r.defaultHandler.ServeHTTP(w, req)
}

// SetComparator changes the order of the active routes.
func (r *Router) SetComparator(c Comparator) {
	if c == nil {
		c = ByName
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.compare = c
	slices.SortStableFunc(r.active, c)
}

// Stop destroys all routes. Calling it more than once is safe.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	r.stopped = true
	for _, rt := range r.active {
		rt.Destroy()
	}

	r.active = nil
	r.byFile = make(map[string]*Route)
	r.updateGauge()
}

// Routes returns the active routes in dispatch order.
func (r *Router) Routes() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	files := make(map[*Route]string, len(r.byFile))
	for f, rt := range r.byFile {
		files[rt] = f
	}

	infos := make([]Info, 0, len(r.active))
	for _, rt := range r.active {
		infos = append(infos, Info{Id: rt.id, Name: rt.name, File: files[rt], Config: rt.Config()})
	}

	return infos
}

// IsBuildError tells whether the error was caused by an invalid route
// configuration.
func IsBuildError(err error) bool {
	var berr *BuildError
	return errors.As(err, &berr)
}
