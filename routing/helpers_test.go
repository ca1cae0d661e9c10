package routing

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zalando/routekeeper/builtin"
	"github.com/zalando/routekeeper/endpoints"
	"github.com/zalando/routekeeper/heap"
	"github.com/zalando/routekeeper/logging/loggingtest"
	"github.com/zalando/routekeeper/routedir"
)

const testTimeout = 120 * time.Millisecond

// closerSpec creates handlers that record their own closing.
type closerSpec struct {
	mu     sync.Mutex
	closed []string
}

type closingHandler struct {
	spec *closerSpec
	body string
	path string
}

func (s *closerSpec) Name() string { return "Closer" }

func (s *closerSpec) Create(h *heap.Heap, config json.RawMessage) (any, error) {
	var c struct {
		Body string `json:"body"`
	}

	if err := json.Unmarshal(config, &c); err != nil {
		return nil, err
	}

	ch := &closingHandler{spec: s, body: c.Body}
	if ns := h.Endpoint(); ns != nil {
		ch.path = ns.Path()
	}

	return ch, nil
}

func (s *closerSpec) closedBodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.closed...)
}

func (ch *closingHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	io.WriteString(w, ch.body)
}

func (ch *closingHandler) Close() error {
	ch.spec.mu.Lock()
	defer ch.spec.mu.Unlock()
	ch.spec.closed = append(ch.spec.closed, ch.body)
	return nil
}

type testRouter struct {
	*Router
	dir       string
	log       *loggingtest.TestLogger
	closer    *closerSpec
	endpoints *endpoints.Registry
	heap      *heap.Heap
	rewrites  int
}

func newTestRouter(t *testing.T) *testRouter {
	t.Helper()

	l := loggingtest.New()
	closer := &closerSpec{}
	registry := builtin.MakeRegistry()
	registry.Register(closer)

	h := heap.New(heap.Options{Name: "router", Registry: registry})
	require.NoError(t, h.Declare(heap.Declaration{
		Name:   "X",
		Type:   builtin.StaticResponseName,
		Config: json.RawMessage(`{"body": "handled by X"}`),
	}))

	reg := endpoints.NewRegistry(DefaultBasePath + "/routes")
	dir := t.TempDir()
	r := New(Options{
		Monitor:        routedir.NewMonitor(dir),
		BuilderOptions: BuilderOptions{Heap: h, Endpoints: reg, Log: l},
	})

	t.Cleanup(func() {
		r.Stop()
		h.Destroy()
		l.Close()
	})

	return &testRouter{Router: r, dir: dir, log: l, closer: closer, endpoints: reg, heap: h}
}

func (tr *testRouter) write(t *testing.T, id, config string) string {
	t.Helper()
	file := filepath.Join(tr.dir, id+".json")
	require.NoError(t, os.WriteFile(file, []byte(config), 0o644))
	return file
}

// rewrite moves the modification time forward, so that the next scan
// reports the file as modified regardless of the timestamp resolution
func (tr *testRouter) rewrite(t *testing.T, id, config string) string {
	t.Helper()
	file := tr.write(t, id, config)
	info, err := os.Stat(file)
	require.NoError(t, err)

	tr.rewrites++
	later := info.ModTime().Add(time.Duration(tr.rewrites) * time.Hour)
	require.NoError(t, os.Chtimes(file, later, later))
	return file
}

func (tr *testRouter) scan(t *testing.T) {
	t.Helper()
	c, err := tr.monitor.Scan()
	require.NoError(t, err)
	if !c.Empty() {
		tr.OnChanges(c)
	}
}

func (tr *testRouter) names() []string {
	var names []string
	for _, info := range tr.Routes() {
		names = append(names, info.Name)
	}

	return names
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rsp := httptest.NewRecorder()
	h.ServeHTTP(rsp, httptest.NewRequest("GET", path, nil))
	return rsp
}

func staticRoute(name, body string) string {
	return `{"name": "` + name + `", "handler": {"type": "StaticResponseHandler", "config": {"body": "` + body + `"}}}`
}

func newRequest(path string) *http.Request {
	return httptest.NewRequest("GET", path, nil)
}

func serveRequest(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rsp := httptest.NewRecorder()
	h.ServeHTTP(rsp, r)
	return rsp
}

func removeFile(file string) error {
	return os.Remove(file)
}
