/*
Package audit publishes an event for every request handled by the routes
that reference an audit service.
*/
package audit

import (
	"net/http"
	"time"

	"github.com/zalando/routekeeper/filters"
)

// Event describes a handled request.
type Event struct {

	// The time that the request was received.
	Time time.Time

	// The route that handled the request.
	RouteID   string
	RouteName string

	// The client request.
	Request *http.Request

	// The status code of the response. Zero when no response was
	// returned.
	Status int

	// The size of the response in bytes.
	Size int64

	// The time spent processing the request.
	Duration time.Duration
}

// Service receives the audit events.
type Service interface {
	Publish(Event)
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc func(Event)

func (f ServiceFunc) Publish(e Event) { f(e) }

type auditFilter struct {
	service   Service
	routeID   string
	routeName string
	now       func() time.Time
}

// Filter returns a filter that publishes an event to the service after
// each request. The event is published even when the downstream handlers
// panic.
func Filter(s Service, routeID, routeName string) filters.Filter {
	return &auditFilter{service: s, routeID: routeID, routeName: routeName, now: time.Now}
}

func (f *auditFilter) Filter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	start := f.now()
	rec := filters.NewRecorder(w)
	defer func() {
		f.service.Publish(Event{
			Time:      start,
			RouteID:   f.routeID,
			RouteName: f.routeName,
			Request:   r,
			Status:    rec.Status(),
			Size:      rec.Size(),
			Duration:  f.now().Sub(start),
		})
	}()

	next.ServeHTTP(rec, r)
}
