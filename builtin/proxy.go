package builtin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"github.com/zalando/routekeeper/filters"
	"github.com/zalando/routekeeper/heap"
	"github.com/zalando/routekeeper/logging"
)

const (
	defaultBreakerFailures         = 5
	defaultBreakerTimeout          = 60 * time.Second
	defaultBreakerHalfOpenRequests = 1
)

type reverseProxySpec struct{}

type breakerConfig struct {
	Failures         int    `json:"failures"`
	Timeout          string `json:"timeout"`
	HalfOpenRequests int    `json:"halfOpenRequests"`
}

type reverseProxy struct {
	base      *url.URL
	proxy     *httputil.ReverseProxy
	transport *http.Transport
	breaker   *gobreaker.TwoStepCircuitBreaker
	log       logging.Logger
}

// NewReverseProxy creates the spec of the ReverseProxyHandler.
//
// Config:
//
//	{
//	  "baseURI": "http://&{backend.host}:8080/api",
//	  "circuitBreaker": {"failures": 5, "timeout": "60s", "halfOpenRequests": 1}
//	}
//
// The request path is appended to the path of the base URI. Properties in
// the base URI are expanded.
//
// The circuit breaker is optional. It opens after the configured number
// of consecutive failures, transport errors or 5xx responses, and while
// open, the requests are answered with 503 Service Unavailable without
// contacting the backend. After the timeout, it lets through the
// half-open requests to probe the backend.
func NewReverseProxy() heap.Spec { return reverseProxySpec{} }

func (reverseProxySpec) Name() string { return ReverseProxyName }

func newBreaker(name string, c *breakerConfig, log logging.Logger) (*gobreaker.TwoStepCircuitBreaker, error) {
	if c.Failures == 0 {
		c.Failures = defaultBreakerFailures
	}

	if c.HalfOpenRequests == 0 {
		c.HalfOpenRequests = defaultBreakerHalfOpenRequests
	}

	if c.Failures < 0 || c.HalfOpenRequests < 0 {
		return nil, errors.New("invalid circuit breaker settings")
	}

	timeout := defaultBreakerTimeout
	if c.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(c.Timeout)
		if err != nil || timeout <= 0 {
			return nil, fmt.Errorf("invalid circuit breaker timeout: %s", c.Timeout)
		}
	}

	failures := uint32(c.Failures)
	return gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(c.HalfOpenRequests),
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Infof("circuit breaker of %s: %s -> %s", name, from, to)
		},
	}), nil
}

func (reverseProxySpec) Create(h *heap.Heap, config json.RawMessage) (any, error) {
	var c struct {
		BaseURI        string         `json:"baseURI"`
		CircuitBreaker *breakerConfig `json:"circuitBreaker"`
	}

	if err := json.Unmarshal(config, &c); err != nil {
		return nil, err
	}

	if c.BaseURI == "" {
		return nil, errors.New("missing baseURI")
	}

	base, err := url.Parse(h.Expand(c.BaseURI))
	if err != nil {
		return nil, fmt.Errorf("invalid baseURI: %w", err)
	}

	if base.Scheme != "http" && base.Scheme != "https" || base.Host == "" {
		return nil, fmt.Errorf("invalid baseURI: %s", base)
	}

	log := logging.Component("proxy")
	p := &reverseProxy{
		base:      base,
		transport: http.DefaultTransport.(*http.Transport).Clone(),
		log:       log,
	}

	if c.CircuitBreaker != nil {
		p.breaker, err = newBreaker(base.Host, c.CircuitBreaker, log)
		if err != nil {
			return nil, err
		}
	}

	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(base)
			pr.SetXForwarded()
		},
		Transport: p.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Errorf("error while proxying %s %s to %s: %v", r.Method, r.URL.Path, base.Host, err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	return p, nil
}

func (p *reverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.breaker == nil {
		p.proxy.ServeHTTP(w, r)
		return
	}

	done, err := p.breaker.Allow()
	if err != nil {
		p.log.Debugf("circuit breaker of %s: %v", p.base.Host, err)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	rec := filters.NewRecorder(w)
	defer func() {
		done(rec.Status() < http.StatusInternalServerError)
	}()

	p.proxy.ServeHTTP(rec, r)
}

// Close releases the idle backend connections.
func (p *reverseProxy) Close() error {
	p.transport.CloseIdleConnections()
	return nil
}
