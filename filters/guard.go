package filters

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/zalando/routekeeper/logging"
)

type faultContainment struct {
	routeID string
	log     logging.Logger
}

type absentResponseLogger struct {
	routeID string
	log     logging.Logger
}

// ContainFaults returns a filter that converts the panics of the
// downstream handlers into 500 responses. http.ErrAbortHandler is passed
// on, since it is the way of the handlers to abort the response
// deliberately.
func ContainFaults(routeID string, l logging.Logger) Filter {
	return &faultContainment{routeID: routeID, log: logging.OrDefault(l, "filters")}
}

func (f *faultContainment) Filter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	rec := NewRecorder(w)
	defer func() {
		err := recover()
		if err == nil {
			return
		}

		if err == http.ErrAbortHandler {
			panic(err)
		}

		f.log.Errorf("route %s: fault while handling %s %s: %v\n%s", f.routeID, r.Method, r.URL.Path, err, debug.Stack())
		if rec.Written() {
			// the response was started, nothing to do but to stop it
			panic(http.ErrAbortHandler)
		}

		rec.Header().Set("Content-Type", "text/plain; charset=utf-8")
		rec.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintln(rec, http.StatusText(http.StatusInternalServerError))
	}()

	next.ServeHTTP(rec, r)
}

// LogAbsentResponse returns a filter that logs when the downstream
// handlers returned without writing any response. The response is not
// changed.
func LogAbsentResponse(routeID string, l logging.Logger) Filter {
	return &absentResponseLogger{routeID: routeID, log: logging.OrDefault(l, "filters")}
}

func (f *absentResponseLogger) Filter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	rec := NewRecorder(w)
	next.ServeHTTP(rec, r)
	if !rec.Written() {
		f.log.Warnf("route %s: no response returned for %s %s", f.routeID, r.Method, r.URL.Path)
	}
}
