package audit

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/routekeeper/filters"
	"github.com/zalando/routekeeper/heap"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Publish(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func testRequest() *http.Request {
	r, _ := http.NewRequest("GET", "http://example.com/orders?page=2", nil)
	r.RequestURI = "/orders?page=2"
	r.RemoteAddr = "127.0.0.1:5443"
	r.Header.Set("Referer", "http://example.com/")
	r.Header.Set("User-Agent", "curl/8.0")
	return r
}

func testDate() time.Time {
	l := time.FixedZone("UTC", 0)
	return time.Date(2021, 10, 14, 9, 30, 0, 0, l)
}

func testEvent() Event {
	return Event{
		Time:     testDate(),
		RouteID:  "orders",
		Request:  testRequest(),
		Status:   http.StatusTeapot,
		Size:     2326,
		Duration: 42 * time.Millisecond,
	}
}

func TestFilterPublishes(t *testing.T) {
	c := &collector{}
	h := filters.Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "done")
	}), Filter(c, "orders", "Orders"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/orders", nil))

	require.Len(t, c.events, 1)
	e := c.events[0]
	assert.Equal(t, "orders", e.RouteID)
	assert.Equal(t, "Orders", e.RouteName)
	assert.Equal(t, http.StatusCreated, e.Status)
	assert.Equal(t, int64(4), e.Size)
	assert.Equal(t, "POST", e.Request.Method)
	assert.False(t, e.Time.IsZero())
}

func TestFilterPublishesOnPanic(t *testing.T) {
	c := &collector{}
	h := filters.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), Filter(c, "broken", ""))

	assert.Panics(t, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	})

	require.Len(t, c.events, 1)
	assert.Equal(t, 0, c.events[0].Status)
}

func TestLoggingFormat(t *testing.T) {
	var buf bytes.Buffer
	s := NewLoggingService("payments", &buf, false)
	s.Publish(testEvent())

	const expected = `127.0.0.1 - - [14/Oct/2021:09:30:00 +0000] "GET /orders?page=2 HTTP/1.1" 418 2326 "http://example.com/" "curl/8.0" 42 example.com payments orders` + "\n"
	assert.Equal(t, expected, buf.String())
}

func TestLoggingUsesForwardedFor(t *testing.T) {
	var buf bytes.Buffer
	s := NewLoggingService("", &buf, false)
	e := testEvent()
	e.Request.Header.Set("X-Forwarded-For", "192.168.3.3")
	s.Publish(e)

	assert.Contains(t, buf.String(), "192.168.3.3 - - [")
	assert.Contains(t, buf.String(), " audit orders\n")
}

func TestLoggingWithoutRequest(t *testing.T) {
	var buf bytes.Buffer
	s := NewLoggingService("", &buf, false)
	e := testEvent()
	e.Request = nil

	require.NotPanics(t, func() { s.Publish(e) })
	assert.Contains(t, buf.String(), `- - - [14/Oct/2021:09:30:00 +0000] "  " 418`)
}

func TestLoggingJSON(t *testing.T) {
	var buf bytes.Buffer
	s := NewLoggingService("payments", &buf, true)
	s.Publish(testEvent())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "payments", entry["topic"])
	assert.Equal(t, "orders", entry["route"])
	assert.Equal(t, float64(418), entry["status"])
}

func TestLoggingSpec(t *testing.T) {
	h := heap.New(heap.Options{Registry: heap.NewRegistry(NewLoggingSpec())})
	h.Declare(heap.Declaration{Name: "audit", Type: LoggingName, Config: json.RawMessage(`{"topic": "billing"}`)})

	s, err := heap.GetAs[Service](h, "audit")
	require.NoError(t, err)
	assert.Equal(t, "billing", s.(*LoggingService).Topic())

	s, err = heap.ResolveAs[Service](h, json.RawMessage(`{"type": "LoggingAuditService"}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultTopic, s.(*LoggingService).Topic())
}
