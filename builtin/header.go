package builtin

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/zalando/routekeeper/heap"
)

const (
	requestMessage  = "request"
	responseMessage = "response"
)

type headerFilterSpec struct{}

type headerFilter struct {
	response bool
	remove   []string
	add      http.Header
}

type headerWriter struct {
	http.ResponseWriter
	filter  *headerFilter
	applied bool
}

// NewHeaderFilter creates the spec of the HeaderFilter.
//
// Config:
//
//	{
//	  "messageType": "response",
//	  "remove": ["Server"],
//	  "add": {"X-Served-By": ["&{instance}"]}
//	}
//
// The headers listed in remove are removed before the ones in add are
// added. Properties in the added values are expanded. The message type
// defaults to request.
func NewHeaderFilter() heap.Spec { return headerFilterSpec{} }

func (headerFilterSpec) Name() string { return HeaderFilterName }

func (headerFilterSpec) Create(h *heap.Heap, config json.RawMessage) (any, error) {
	var c struct {
		MessageType string              `json:"messageType"`
		Remove      []string            `json:"remove"`
		Add         map[string][]string `json:"add"`
	}

	if err := json.Unmarshal(config, &c); err != nil {
		return nil, err
	}

	f := &headerFilter{remove: c.Remove, add: make(http.Header)}
	switch c.MessageType {
	case "", requestMessage:
	case responseMessage:
		f.response = true
	default:
		return nil, fmt.Errorf("invalid messageType: %s", c.MessageType)
	}

	for k, vs := range c.Add {
		for _, v := range vs {
			f.add.Add(k, h.Expand(v))
		}
	}

	return f, nil
}

func (f *headerFilter) apply(h http.Header) {
	for _, k := range f.remove {
		h.Del(k)
	}

	for k, vs := range f.add {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
}

func (f *headerFilter) Filter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if !f.response {
		r = r.Clone(r.Context())
		f.apply(r.Header)
		next.ServeHTTP(w, r)
		return
	}

	hw := &headerWriter{ResponseWriter: w, filter: f}
	next.ServeHTTP(hw, r)
	hw.before()
}

func (w *headerWriter) before() {
	if !w.applied {
		w.applied = true
		w.filter.apply(w.Header())
	}
}

func (w *headerWriter) WriteHeader(code int) {
	w.before()
	w.ResponseWriter.WriteHeader(code)
}

func (w *headerWriter) Write(b []byte) (int, error) {
	w.before()
	return w.ResponseWriter.Write(b)
}

func (w *headerWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
