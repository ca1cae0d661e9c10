/*
Package session implements the sessions of the routes that reference a
session manager.

The session filter loads the session of the incoming request through the
manager, makes it available in the request context, and saves it through
the manager before the response is started. New sessions are saved only
when the request stored a value in them.
*/
package session

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/zalando/routekeeper/filters"
	"github.com/zalando/routekeeper/logging"
)

// Session holds the values of one client.
type Session struct {
	ID string

	mu     sync.Mutex
	values map[string]any
	dirty  bool
	stored bool
}

// Manager loads and stores sessions.
type Manager interface {

	// Load returns the session of the request, or a new one.
	Load(r *http.Request) (*Session, error)

	// Save stores the session and, when necessary, sets the response
	// headers that identify it. It is called before the response is
	// started.
	Save(w http.ResponseWriter, r *http.Request, s *Session) error
}

type contextKey struct{}

// New creates an empty session.
func New(id string) *Session {
	return &Session{ID: id, values: make(map[string]any)}
}

func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.dirty = true
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	s.dirty = true
}

// Keys returns the sorted keys of the session.
func (s *Session) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	return keys
}

// Dirty tells whether the session was changed since it was loaded or
// saved.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Stored tells whether the session was saved before. Managers mark the
// sessions that they load from their store with MarkStored.
func (s *Session) Stored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored
}

// MarkStored marks the session as saved and unchanged.
func (s *Session) MarkStored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
	s.stored = true
}

// NewContext returns a context carrying the session.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session of the context.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok
}

type sessionFilter struct {
	manager Manager
	log     logging.Logger
}

type savingWriter struct {
	http.ResponseWriter
	save  func()
	saved bool
}

func (w *savingWriter) before() {
	if !w.saved {
		w.saved = true
		w.save()
	}
}

func (w *savingWriter) WriteHeader(code int) {
	w.before()
	w.ResponseWriter.WriteHeader(code)
}

func (w *savingWriter) Write(b []byte) (int, error) {
	w.before()
	return w.ResponseWriter.Write(b)
}

func (w *savingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Filter returns a filter that provides the session of the requests
// through the manager.
func Filter(m Manager, l logging.Logger) filters.Filter {
	return &sessionFilter{manager: m, log: logging.OrDefault(l, "session")}
}

func (f *sessionFilter) Filter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	s, err := f.manager.Load(r)
	if err != nil {
		f.log.Errorf("failed to load session: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	sw := &savingWriter{ResponseWriter: w}
	sw.save = func() {
		// new sessions without values are not stored
		if !s.Stored() && !s.Dirty() {
			return
		}

		if err := f.manager.Save(w, r, s); err != nil {
			f.log.Errorf("failed to save session %s: %v", s.ID, err)
			return
		}

		s.MarkStored()
	}

	next.ServeHTTP(sw, r.WithContext(NewContext(r.Context(), s)))
	sw.before()
}
