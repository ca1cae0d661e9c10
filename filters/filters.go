/*
Package filters implements the chains of the route handlers: filters,
executed in order, wrapping a terminal http.Handler.

A filter receives the request and the next handler of the chain. It can
modify the request before calling the next handler, it can observe or
modify the response written by it, or it can answer the request on its
own, without calling the next handler at all.

The package also provides the filters that the router appends to every
route, that contain the faults of the downstream handlers and that log
when they returned no response.
*/
package filters

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// Filter is a step of a chain.
type Filter interface {
	Filter(w http.ResponseWriter, r *http.Request, next http.Handler)
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc func(w http.ResponseWriter, r *http.Request, next http.Handler)

func (f FilterFunc) Filter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	f(w, r, next)
}

type link struct {
	filter Filter
	next   http.Handler
}

func (l link) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.filter.Filter(w, r, l.next)
}

// Chain returns a handler that executes the filters in order, and the
// handler as the last step. The first filter is the outermost one.
func Chain(h http.Handler, fs ...Filter) http.Handler {
	for i := len(fs) - 1; i >= 0; i-- {
		if fs[i] == nil {
			continue
		}

		h = link{filter: fs[i], next: h}
	}

	return h
}

// Recorder wraps a response writer and records the status code and the
// size of the response.
type Recorder struct {
	http.ResponseWriter
	status  int
	size    int64
	written bool
}

// NewRecorder wraps the response writer.
func NewRecorder(w http.ResponseWriter) *Recorder {
	return &Recorder{ResponseWriter: w}
}

func (r *Recorder) WriteHeader(code int) {
	if r.written {
		return
	}

	r.status = code
	r.written = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *Recorder) Write(b []byte) (int, error) {
	if !r.written {
		r.WriteHeader(http.StatusOK)
	}

	n, err := r.ResponseWriter.Write(b)
	r.size += int64(n)
	return n, err
}

// Flush implements http.Flusher when the wrapped writer does.
func (r *Recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		if !r.written {
			r.WriteHeader(http.StatusOK)
		}

		f.Flush()
	}
}

// Hijack implements http.Hijacker when the wrapped writer does.
func (r *Recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}

	r.written = true
	return h.Hijack()
}

// Unwrap supports http.ResponseController.
func (r *Recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Written tells whether a response was started.
func (r *Recorder) Written() bool { return r.written }

// Status returns the status code of the response, or zero when no
// response was started.
func (r *Recorder) Status() int { return r.status }

// Size returns the number of body bytes written.
func (r *Recorder) Size() int64 { return r.size }
