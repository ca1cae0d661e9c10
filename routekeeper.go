package routekeeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zalando/routekeeper/api"
	"github.com/zalando/routekeeper/builtin"
	"github.com/zalando/routekeeper/endpoints"
	"github.com/zalando/routekeeper/heap"
	"github.com/zalando/routekeeper/logging"
	"github.com/zalando/routekeeper/metrics"
	"github.com/zalando/routekeeper/routedir"
	"github.com/zalando/routekeeper/routing"
)

const (
	// InstanceDirEnv names the environment variable of the instance
	// directory.
	InstanceDirEnv = "ROUTEKEEPER_INSTANCE_DIR"

	defaultInstanceDir = ".routekeeper"
	shutdownTimeout    = 30 * time.Second
)

// Options to start the gateway.
type Options struct {

	// Network address that the gateway listens on.
	Address string

	// Network address of the support listener, serving the /metrics
	// endpoint. An empty value disables the support listener.
	SupportListener string

	// Directory of the route files. Defaults to DefaultRoutesDir().
	RoutesDir string

	// Interval of the directory scans. Zero or less means a single scan
	// at startup.
	ScanInterval time.Duration

	// BasePath of the management API and of the endpoints of the
	// routes. Defaults to /_router.
	BasePath string

	// DisableAPI disables the management API. The endpoints of the
	// routes are served regardless.
	DisableAPI bool

	// DefaultHandler is a heap reference, a name or an inline
	// declaration, of the handler serving the requests that no route
	// accepts.
	DefaultHandler json.RawMessage

	// HeapDeclarations are the objects shared by the routes.
	HeapDeclarations []heap.Declaration

	// Properties of the router heap, available for expansion in the
	// object configurations.
	Properties map[string]string

	// CustomSpecs are additional object types.
	CustomSpecs []heap.Spec

	// Registry of the router metrics. When not set, a new registry is
	// used.
	Registry *prometheus.Registry

	// Output file for the application log entries. When neither this
	// nor ApplicationLogOutput is set, os.Stderr is used.
	ApplicationLog string

	// Output for the application log entries. It takes precedence over
	// ApplicationLog.
	ApplicationLogOutput io.Writer

	// Prefix for application log entries.
	ApplicationLogPrefix string

	// Minimum level of the application log entries.
	ApplicationLogLevel logrus.Level

	// When set, log in JSON format is used.
	ApplicationLogJSONEnabled bool

	// Log is used by the components of the gateway. When not set, they
	// log to the logrus standard logger.
	Log logging.Logger
}

// Gateway dispatches the requests to the routes of the route directory,
// and serves the management API.
type Gateway struct {
	heap      *heap.Heap
	endpoints *endpoints.Registry
	monitor   *routedir.Monitor
	router    *routing.Router
	scanner   routedir.Scanner
	api       *api.API
	basePath  string
	registry  *prometheus.Registry
	log       logging.Logger

	startOnce sync.Once
	closeOnce sync.Once
}

// DefaultInstanceDir returns the value of ROUTEKEEPER_INSTANCE_DIR, or
// .routekeeper in the home directory of the user.
func DefaultInstanceDir() string {
	if d := os.Getenv(InstanceDirEnv); d != "" {
		return d
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return defaultInstanceDir
	}

	return filepath.Join(home, defaultInstanceDir)
}

// DefaultRoutesDir returns the config/routes directory of the instance
// directory.
func DefaultRoutesDir() string {
	return filepath.Join(DefaultInstanceDir(), "config", "routes")
}

// New creates a gateway. The route directory is not scanned until Start
// is called.
func New(o Options) (*Gateway, error) {
	if o.RoutesDir == "" {
		o.RoutesDir = DefaultRoutesDir()
	}

	if o.BasePath == "" {
		o.BasePath = routing.DefaultBasePath
	}

	o.BasePath = "/" + strings.Trim(o.BasePath, "/")
	if o.Registry == nil {
		o.Registry = prometheus.NewRegistry()
	}

	log := logging.OrDefault(o.Log, "routekeeper")

	specs := builtin.MakeRegistry()
	specs.Register(o.CustomSpecs...)
	h := heap.New(heap.Options{Name: "router", Registry: specs, Properties: o.Properties})
	if err := h.Declare(o.HeapDeclarations...); err != nil {
		return nil, fmt.Errorf("invalid heap declarations: %w", err)
	}

	var defaultHandler http.Handler
	if len(o.DefaultHandler) > 0 {
		var err error
		defaultHandler, err = heap.ResolveAs[http.Handler](h, o.DefaultHandler)
		if err != nil {
			h.Destroy()
			return nil, fmt.Errorf("invalid default handler: %w", err)
		}
	}

	reg := endpoints.NewRegistry(o.BasePath + "/routes")
	monitor := routedir.NewMonitor(o.RoutesDir)
	router := routing.New(routing.Options{
		Monitor:        monitor,
		BuilderOptions: routing.BuilderOptions{Heap: h, Endpoints: reg, Log: o.Log},
		DefaultHandler: defaultHandler,
		Metrics:        metrics.NewRouterMetrics(o.Registry),
	})

	scanner := routedir.NewScanner(monitor, o.ScanInterval, o.Log)
	scanner.Register(router)

	g := &Gateway{
		heap:      h,
		endpoints: reg,
		monitor:   monitor,
		router:    router,
		scanner:   scanner,
		basePath:  o.BasePath,
		registry:  o.Registry,
		log:       log,
	}

	if !o.DisableAPI {
		g.api = api.New(api.Options{Routes: router, Endpoints: reg, BasePath: o.BasePath, Log: o.Log})
	}

	return g, nil
}

// Router returns the router of the gateway.
func (g *Gateway) Router() *routing.Router { return g.router }

// MetricsHandler serves the router metrics in the Prometheus format.
func (g *Gateway) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{})
}

func (g *Gateway) management(p string) bool {
	return p == g.basePath || strings.HasPrefix(p, g.basePath+"/")
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.management(r.URL.Path) {
		g.router.ServeHTTP(w, r)
		return
	}

	if g.api != nil {
		g.api.ServeHTTP(w, r)
		return
	}

	g.endpoints.ServeHTTP(w, r)
}

// Start scans the route directory, and, when a scan interval is set,
// keeps scanning it periodically.
func (g *Gateway) Start() {
	g.startOnce.Do(func() {
		g.log.Infof("loading routes from %s", g.monitor.Directory())
		g.scanner.Start()
	})
}

// Close stops scanning and destroys the routes and the shared objects.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.scanner.Stop()
		g.router.Stop()
		err = g.heap.Destroy()
	})

	return err
}

func listenAndServe(ctx context.Context, s *http.Server, log logging.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("listening on %s", s.Addr)
		if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(sctx)
	})

	return g.Wait()
}

// RunContext starts the gateway and blocks until the context is done or
// one of the listeners fails.
func RunContext(ctx context.Context, o Options) error {
	g, err := New(o)
	if err != nil {
		return err
	}

	defer func() {
		if err := g.Close(); err != nil {
			g.log.Errorf("failed to close the gateway: %v", err)
		}
	}()

	g.Start()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return listenAndServe(ctx, &http.Server{Addr: o.Address, Handler: g}, g.log)
	})

	if o.SupportListener != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", g.MetricsHandler())
		eg.Go(func() error {
			return listenAndServe(ctx, &http.Server{Addr: o.SupportListener, Handler: mux}, g.log)
		})
	}

	// a failing listener stops the others through the shared context
	return eg.Wait()
}

// Run initializes the application log, starts the gateway and blocks
// until SIGINT or SIGTERM is received.
func Run(o Options) error {
	if o.ApplicationLogOutput == nil && o.ApplicationLog != "" {
		f, err := os.OpenFile(o.ApplicationLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open the application log: %w", err)
		}

		defer f.Close()
		o.ApplicationLogOutput = f
	}

	logging.Init(logging.Options{
		ApplicationLogOutput:      o.ApplicationLogOutput,
		ApplicationLogPrefix:      o.ApplicationLogPrefix,
		ApplicationLogLevel:       o.ApplicationLogLevel,
		ApplicationLogJSONEnabled: o.ApplicationLogJSONEnabled,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, o)
}
