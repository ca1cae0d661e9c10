package builtin

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/zalando/routekeeper/filters"
	"github.com/zalando/routekeeper/heap"
)

type chainSpec struct{}

// NewChain creates the spec of the Chain handler.
//
// Config:
//
//	{
//	  "filters": ["auth", {"type": "HeaderFilter", "config": {...}}],
//	  "handler": "backend"
//	}
//
// The filters are applied in the order of declaration.
func NewChain() heap.Spec { return chainSpec{} }

func (chainSpec) Name() string { return ChainName }

func (chainSpec) Create(h *heap.Heap, config json.RawMessage) (any, error) {
	var c struct {
		Filters []json.RawMessage `json:"filters"`
		Handler json.RawMessage   `json:"handler"`
	}

	if err := json.Unmarshal(config, &c); err != nil {
		return nil, err
	}

	handler, err := heap.ResolveAs[http.Handler](h, c.Handler)
	if err != nil {
		return nil, fmt.Errorf("handler: %w", err)
	}

	fs := make([]filters.Filter, 0, len(c.Filters))
	for i, ref := range c.Filters {
		f, err := heap.ResolveAs[filters.Filter](h, ref)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}

		fs = append(fs, f)
	}

	return filters.Chain(handler, fs...), nil
}
