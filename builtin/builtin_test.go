package builtin

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/routekeeper/audit"
	"github.com/zalando/routekeeper/filters"
	"github.com/zalando/routekeeper/heap"
	"github.com/zalando/routekeeper/session"
)

func testHeap(t *testing.T, props map[string]string) *heap.Heap {
	h := heap.New(heap.Options{Name: "test", Registry: MakeRegistry(), Properties: props})
	t.Cleanup(func() { h.Destroy() })
	return h
}

func resolveHandler(t *testing.T, h *heap.Heap, ref string) http.Handler {
	handler, err := heap.ResolveAs[http.Handler](h, json.RawMessage(ref))
	require.NoError(t, err)
	return handler
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rsp := httptest.NewRecorder()
	h.ServeHTTP(rsp, r)
	return rsp
}

func TestRegistry(t *testing.T) {
	r := MakeRegistry()
	for _, name := range []string{
		StaticResponseName,
		ReverseProxyName,
		ChainName,
		HeaderFilterName,
		ThrottleFilterName,
		session.InMemoryName,
		audit.LoggingName,
	} {
		_, ok := r.Get(name)
		assert.True(t, ok, name)
	}
}

func TestStaticResponse(t *testing.T) {
	h := testHeap(t, map[string]string{"who": "world"})

	for _, test := range []struct {
		title   string
		config  string
		status  int
		body    string
		ctype   string
		invalid bool
	}{{
		title:  "defaults",
		config: `{}`,
		status: http.StatusOK,
	}, {
		title:  "body with property",
		config: `{"body": "hello &{who}", "headers": {"Content-Type": ["text/x-greeting"]}}`,
		status: http.StatusOK,
		body:   "hello world",
		ctype:  "text/x-greeting",
	}, {
		title:  "reason as body",
		config: `{"status": 404, "reason": "Not Found"}`,
		status: http.StatusNotFound,
		body:   "Not Found",
		ctype:  "text/plain; charset=utf-8",
	}, {
		title:   "invalid status",
		config:  `{"status": 42}`,
		invalid: true,
	}} {
		t.Run(test.title, func(t *testing.T) {
			o, err := heap.ResolveAs[http.Handler](h, json.RawMessage(`{"type": "StaticResponseHandler", "config": `+test.config+`}`))
			if test.invalid {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			rsp := serve(o, httptest.NewRequest("GET", "/", nil))
			assert.Equal(t, test.status, rsp.Code)
			assert.Equal(t, test.body, rsp.Body.String())
			if test.ctype != "" {
				assert.Equal(t, test.ctype, rsp.Header().Get("Content-Type"))
			}
		})
	}
}

func TestReverseProxy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Forwarded-Host-Seen", r.Header.Get("X-Forwarded-Host"))
		io.WriteString(w, r.URL.Path)
	}))
	defer backend.Close()

	h := testHeap(t, map[string]string{"backend": backend.URL})
	p := resolveHandler(t, h, `{"type": "ReverseProxyHandler", "config": {"baseURI": "&{backend}/api"}}`)

	req := httptest.NewRequest("GET", "http://gateway.example.org/orders", nil)
	rsp := serve(p, req)
	assert.Equal(t, http.StatusOK, rsp.Code)
	assert.Equal(t, "/api/orders", rsp.Body.String())
	assert.Equal(t, "gateway.example.org", rsp.Header().Get("X-Forwarded-Host-Seen"))
}

func TestReverseProxyBackendDown(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	url := backend.URL
	backend.Close()

	h := testHeap(t, nil)
	p := resolveHandler(t, h, `{"type": "ReverseProxyHandler", "config": {"baseURI": "`+url+`"}}`)
	assert.Equal(t, http.StatusBadGateway, serve(p, httptest.NewRequest("GET", "/", nil)).Code)
}

func TestReverseProxyInvalid(t *testing.T) {
	h := testHeap(t, nil)
	for _, config := range []string{`{}`, `{"baseURI": "ftp://example.org"}`, `{"baseURI": "/relative"}`} {
		_, err := h.Resolve(json.RawMessage(`{"type": "ReverseProxyHandler", "config": ` + config + `}`))
		assert.Error(t, err, config)
	}
}

func TestChain(t *testing.T) {
	h := testHeap(t, map[string]string{"instance": "gw-1"})
	require.NoError(t, h.Declare(
		heap.Declaration{Name: "backend", Type: StaticResponseName, Config: json.RawMessage(`{"body": "ok"}`)},
		heap.Declaration{Name: "tag", Type: HeaderFilterName, Config: json.RawMessage(`{"messageType": "response", "add": {"X-Served-By": ["&{instance}"]}, "remove": ["X-Internal"]}`)},
	))

	c := resolveHandler(t, h, `{"type": "Chain", "config": {"filters": ["tag"], "handler": "backend"}}`)
	rsp := serve(c, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, "ok", rsp.Body.String())
	assert.Equal(t, "gw-1", rsp.Header().Get("X-Served-By"))

	_, err := h.Resolve(json.RawMessage(`{"type": "Chain", "config": {"filters": ["backend"], "handler": "backend"}}`))
	assert.ErrorIs(t, err, heap.ErrWrongType)

	_, err = h.Resolve(json.RawMessage(`{"type": "Chain", "config": {"filters": []}}`))
	assert.ErrorIs(t, err, heap.ErrInvalidReference)
}

func TestRequestHeaderFilter(t *testing.T) {
	h := testHeap(t, nil)
	f, err := heap.ResolveAs[filters.Filter](h, json.RawMessage(`{"type": "HeaderFilter", "config": {"remove": ["Authorization"], "add": {"X-Gateway": ["routekeeper"]}}}`))
	require.NoError(t, err)

	var seen http.Header
	handler := filters.Chain(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = r.Header
	}), f)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	serve(handler, req)

	assert.Empty(t, seen.Get("Authorization"))
	assert.Equal(t, "routekeeper", seen.Get("X-Gateway"))
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
}

func TestResponseHeaderFilterWithoutBody(t *testing.T) {
	h := testHeap(t, nil)
	f, err := heap.ResolveAs[filters.Filter](h, json.RawMessage(`{"type": "HeaderFilter", "config": {"messageType": "response", "add": {"X-Tag": ["a"]}}}`))
	require.NoError(t, err)

	rsp := serve(filters.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), f), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, "a", rsp.Header().Get("X-Tag"))
}

func TestInvalidHeaderFilter(t *testing.T) {
	h := testHeap(t, nil)
	_, err := h.Resolve(json.RawMessage(`{"type": "HeaderFilter", "config": {"messageType": "trailer"}}`))
	assert.Error(t, err)
}

func TestReverseProxyCircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backend.Close()

	h := testHeap(t, nil)
	p := resolveHandler(t, h, `{"type": "ReverseProxyHandler", "config": {"baseURI": "`+backend.URL+`", "circuitBreaker": {"failures": 2, "timeout": "1h"}}}`)

	assert.Equal(t, http.StatusInternalServerError, serve(p, httptest.NewRequest("GET", "/", nil)).Code)
	assert.Equal(t, http.StatusInternalServerError, serve(p, httptest.NewRequest("GET", "/", nil)).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(p, httptest.NewRequest("GET", "/", nil)).Code)
	assert.Equal(t, int32(2), calls.Load())
}

func TestReverseProxyInvalidCircuitBreaker(t *testing.T) {
	h := testHeap(t, nil)
	for _, config := range []string{
		`{"failures": -1}`,
		`{"timeout": "never"}`,
		`{"timeout": "-1s"}`,
	} {
		_, err := h.Resolve(json.RawMessage(`{"type": "ReverseProxyHandler", "config": {"baseURI": "http://example.org", "circuitBreaker": ` + config + `}}`))
		assert.Error(t, err, config)
	}
}

func TestThrottle(t *testing.T) {
	h := testHeap(t, nil)
	f, err := heap.ResolveAs[filters.Filter](h, json.RawMessage(`{"type": "ThrottleFilter", "config": {"requests": 1, "period": "1h", "burst": 2}}`))
	require.NoError(t, err)

	handler := filters.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), f)
	request := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = addr
		return serve(handler, req)
	}

	assert.Equal(t, http.StatusOK, request("192.0.2.1:1234").Code)
	assert.Equal(t, http.StatusOK, request("192.0.2.1:1235").Code)

	rsp := request("192.0.2.1:1236")
	assert.Equal(t, http.StatusTooManyRequests, rsp.Code)
	assert.NotEmpty(t, rsp.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, request("192.0.2.2:1234").Code)
}

func TestThrottlePartitionHeader(t *testing.T) {
	h := testHeap(t, nil)
	f, err := heap.ResolveAs[filters.Filter](h, json.RawMessage(`{"type": "ThrottleFilter", "config": {"requests": 1, "period": "1h", "partitionHeader": "X-Client"}}`))
	require.NoError(t, err)

	handler := filters.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), f)
	request := func(client, forwarded string) int {
		req := httptest.NewRequest("GET", "/", nil)
		if client != "" {
			req.Header.Set("X-Client", client)
		}

		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}

		return serve(handler, req).Code
	}

	assert.Equal(t, http.StatusOK, request("a", ""))
	assert.Equal(t, http.StatusTooManyRequests, request("a", ""))
	assert.Equal(t, http.StatusOK, request("b", ""))
	assert.Equal(t, http.StatusOK, request("", "198.51.100.7, 10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, request("", "198.51.100.7"))
}

func TestInvalidThrottle(t *testing.T) {
	h := testHeap(t, nil)
	for _, config := range []string{
		`{}`,
		`{"requests": 1, "period": "0s"}`,
		`{"requests": 1, "burst": -1}`,
	} {
		_, err := h.Resolve(json.RawMessage(`{"type": "ThrottleFilter", "config": ` + config + `}`))
		assert.Error(t, err, config)
	}
}
