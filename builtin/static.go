package builtin

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/zalando/routekeeper/heap"
)

type staticResponseSpec struct{}

type staticResponse struct {
	status  int
	headers http.Header
	body    string
}

// NewStaticResponse creates the spec of the StaticResponseHandler.
//
// Config:
//
//	{
//	  "status": 404,
//	  "reason": "Not Found",
//	  "headers": {"Content-Type": ["text/plain"]},
//	  "body": "no such page on &{host}"
//	}
//
// The status defaults to 200. When the body is empty, the reason is
// served as the body. Properties in the body are expanded.
func NewStaticResponse() heap.Spec { return staticResponseSpec{} }

func (staticResponseSpec) Name() string { return StaticResponseName }

func (staticResponseSpec) Create(h *heap.Heap, config json.RawMessage) (any, error) {
	var c struct {
		Status  int                 `json:"status"`
		Reason  string              `json:"reason"`
		Headers map[string][]string `json:"headers"`
		Body    string              `json:"body"`
	}

	if err := json.Unmarshal(config, &c); err != nil {
		return nil, err
	}

	if c.Status == 0 {
		c.Status = http.StatusOK
	}

	if c.Status < 100 || c.Status > 999 {
		return nil, fmt.Errorf("invalid status: %d", c.Status)
	}

	s := &staticResponse{
		status:  c.Status,
		headers: make(http.Header),
		body:    h.Expand(c.Body),
	}

	if s.body == "" {
		s.body = c.Reason
	}

	for k, vs := range c.Headers {
		for _, v := range vs {
			s.headers.Add(k, h.Expand(v))
		}
	}

	return s, nil
}

func (s *staticResponse) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for k, vs := range s.headers {
		w.Header()[k] = append([]string(nil), vs...)
	}

	if s.body != "" {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", http.DetectContentType([]byte(s.body)))
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(s.body)))
	}

	w.WriteHeader(s.status)
	if r.Method != http.MethodHead {
		io.WriteString(w, s.body)
	}
}
