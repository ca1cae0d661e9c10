package builtin

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zalando/routekeeper/heap"
)

const (
	defaultThrottlePeriod = time.Second
	defaultMaxClients     = 10000
)

type throttleSpec struct{}

type throttle struct {
	limit           rate.Limit
	burst           int
	partitionHeader string
	maxClients      int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewThrottle creates the spec of the ThrottleFilter.
//
// Config:
//
//	{"requests": 10, "period": "1s", "burst": 20, "partitionHeader": "Authorization"}
//
// The requests are limited per client. Clients are identified by the
// partition header when it is set, otherwise by their remote address,
// taking X-Forwarded-For into account. The burst defaults to the number
// of requests. Requests over the limit get 429 Too Many Requests.
func NewThrottle() heap.Spec { return throttleSpec{} }

func (throttleSpec) Name() string { return ThrottleFilterName }

func (throttleSpec) Create(_ *heap.Heap, config json.RawMessage) (any, error) {
	var c struct {
		Requests        int    `json:"requests"`
		Period          string `json:"period"`
		Burst           int    `json:"burst"`
		PartitionHeader string `json:"partitionHeader"`
		MaxClients      int    `json:"maxClients"`
	}

	if err := json.Unmarshal(config, &c); err != nil {
		return nil, err
	}

	if c.Requests <= 0 {
		return nil, errors.New("requests must be positive")
	}

	period := defaultThrottlePeriod
	if c.Period != "" {
		var err error
		period, err = time.ParseDuration(c.Period)
		if err != nil || period <= 0 {
			return nil, fmt.Errorf("invalid period: %s", c.Period)
		}
	}

	if c.Burst < 0 || c.MaxClients < 0 {
		return nil, errors.New("invalid throttle settings")
	}

	if c.Burst == 0 {
		c.Burst = c.Requests
	}

	if c.MaxClients == 0 {
		c.MaxClients = defaultMaxClients
	}

	return &throttle{
		limit:           rate.Limit(float64(c.Requests) / period.Seconds()),
		burst:           c.Burst,
		partitionHeader: c.PartitionHeader,
		maxClients:      c.MaxClients,
		limiters:        make(map[string]*rate.Limiter),
	}, nil
}

func clientAddress(r *http.Request) string {
	if ff := r.Header.Get("X-Forwarded-For"); ff != "" {
		first, _, _ := strings.Cut(ff, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

func (t *throttle) key(r *http.Request) string {
	if t.partitionHeader != "" {
		if v := r.Header.Get(t.partitionHeader); v != "" {
			return v
		}
	}

	return clientAddress(r)
}

func (t *throttle) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.limiters[key]
	if ok {
		return l
	}

	if len(t.limiters) >= t.maxClients {
		// drop the clients that are back at full burst
		now := time.Now()
		for k, li := range t.limiters {
			if li.TokensAt(now) >= float64(t.burst) {
				delete(t.limiters, k)
			}
		}

		if len(t.limiters) >= t.maxClients {
			t.limiters = make(map[string]*rate.Limiter)
		}
	}

	l = rate.NewLimiter(t.limit, t.burst)
	t.limiters[key] = l
	return l
}

func (t *throttle) Filter(w http.ResponseWriter, r *http.Request, next http.Handler) {
	now := time.Now()
	rv := t.limiter(t.key(r)).ReserveN(now, 1)
	if delay := rv.DelayFrom(now); delay > 0 {
		rv.CancelAt(now)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}

	next.ServeHTTP(w, r)
}

// Close drops the state of the clients.
func (t *throttle) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limiters = make(map[string]*rate.Limiter)
	return nil
}
