/*
Package api implements the management surface of the router.

The routes can be listed, created, read, updated and deleted over HTTP.
Two styles of addressing are supported:

	GET    /_router/routes          list the active routes
	POST   /_router/routes          create a route, the id is taken from the
	                                _id field of the body, or generated
	GET    /_router/routes/{id}     read a route
	PUT    /_router/routes/{id}     update a route
	DELETE /_router/routes/{id}     delete a route

	POST   /_router/route/{id}      create a route with the id
	GET    /_router/route/{id}      read a route
	PUT    /_router/route/{id}      update a route
	DELETE /_router/route/{id}      delete a route

The bodies of the requests and the responses are the JSON configuration
of the routes, tagged with their id in the _id field. The endpoints of the
routes, e.g. the monitoring endpoint, are served under
/_router/routes/{id}/.

The changes are applied synchronously, and they are persisted in the
route directory, where the directory scanner finds them unchanged.
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/zalando/routekeeper/logging"
	"github.com/zalando/routekeeper/routing"
)

const (
	// DefaultBasePath of the management surface.
	DefaultBasePath = routing.DefaultBasePath

	idField       = "_id"
	actionParam   = "_action"
	maxBodyLength = 1 << 20
)

// Routes is the set of the active routes, managed through the API.
type Routes interface {
	Deploy(id, name string, config []byte) (routing.Info, error)
	Update(id, name string, config []byte) (routing.Info, error)
	Undeploy(id string) (routing.Info, error)
	Route(id string) (routing.Info, error)
	Routes() []routing.Info
}

// Options are used to create the API handler.
type Options struct {

	// Routes managed by the API. Required.
	Routes Routes

	// Endpoints serve the endpoint namespaces of the routes, under
	// BasePath/routes/{id}/. Optional.
	Endpoints http.Handler

	// BasePath of the API. Defaults to DefaultBasePath.
	BasePath string

	Log logging.Logger
}

// API serves the management requests.
type API struct {
	routes   Routes
	basePath string
	log      logging.Logger
	mux      *chi.Mux
}

// New creates the API handler.
func New(o Options) *API {
	if o.Routes == nil {
		panic("api: routes required")
	}

	if o.BasePath == "" {
		o.BasePath = DefaultBasePath
	}

	a := &API{
		routes:   o.Routes,
		basePath: o.BasePath,
		log:      logging.OrDefault(o.Log, "api"),
		mux:      chi.NewRouter(),
	}

	a.mux.Use(rejectActions)
	a.mux.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, newError(http.StatusNotFound, "no such resource: "+r.URL.Path, nil))
	})

	a.mux.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, newError(http.StatusMethodNotAllowed, "method not allowed: "+r.Method, nil))
	})

	a.mux.Route(o.BasePath, func(r chi.Router) {
		r.Get("/routes", a.list)
		r.Post("/routes", a.createFromBody)
		r.Patch("/routes", notSupported)

		r.Get("/routes/{id}", a.read)
		r.Put("/routes/{id}", a.update)
		r.Delete("/routes/{id}", a.delete)
		r.Patch("/routes/{id}", notSupported)

		r.Post("/route/{id}", a.createFromPath)
		r.Get("/route/{id}", a.read)
		r.Put("/route/{id}", a.update)
		r.Delete("/route/{id}", a.delete)
		r.Patch("/route/{id}", notSupported)

		if o.Endpoints != nil {
			r.Handle("/routes/{id}/*", o.Endpoints)
		}
	})

	return a
}

// BasePath returns the path under which the API is served.
func (a *API) BasePath() string { return a.basePath }

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func rejectActions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has(actionParam) {
			writeError(w, newError(http.StatusNotImplemented, "actions are not supported", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func notSupported(w http.ResponseWriter, r *http.Request) {
	writeError(w, newError(http.StatusNotImplemented, r.Method+" is not supported", nil))
}
