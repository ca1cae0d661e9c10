package routedir

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zalando/routekeeper/logging"
)

// Listener receives the non-empty change sets of the scans.
type Listener interface {
	OnChanges(ChangeSet)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ChangeSet)

func (f ListenerFunc) OnChanges(c ChangeSet) { f(c) }

// Scanner drives the scans of a monitor.
type Scanner interface {

	// Register adds a listener. It needs to be called before Start.
	Register(Listener)

	// Start starts scanning.
	Start()

	// Stop stops scanning. An in-progress scan is completed.
	Stop()
}

type scanner struct {
	monitor *Monitor
	log     logging.Logger

	mu        sync.Mutex
	listeners []Listener
}

// OnceScanner scans the directory once, when started.
type OnceScanner struct {
	scanner
	done atomic.Bool
}

// PeriodicScanner scans the directory when started, and then in a fixed
// interval until stopped.
type PeriodicScanner struct {
	scanner
	interval time.Duration

	stateMu sync.Mutex
	started bool
	stopped bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

var disabledIntervalTokens = []string{"disabled", "unlimited", "never", "off"}

// ParseInterval parses a scan interval. It accepts Go durations, integer
// seconds and the tokens disabled, unlimited, never and off. The tokens
// mean zero, a single scan.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	for _, t := range disabledIntervalTokens {
		if strings.EqualFold(s, t) {
			return 0, nil
		}
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid scan interval: %s", s)
	}

	return d, nil
}

// NewScanner returns a PeriodicScanner when the interval is positive,
// otherwise a OnceScanner.
func NewScanner(m *Monitor, interval time.Duration, l logging.Logger) Scanner {
	if interval <= 0 {
		return NewOnceScanner(m, l)
	}

	return NewPeriodicScanner(m, interval, l)
}

func (s *scanner) Register(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *scanner) scan() error {
	c, err := s.monitor.Scan()
	if errors.Is(err, ErrScanInProgress) {
		s.log.Debugf("skipping scan of %s, another scan is in progress", s.monitor.Directory())
		return nil
	}

	if err != nil {
		return err
	}

	if c.Empty() {
		return nil
	}

	s.log.Infof("changes detected in %s: %d added, %d modified, %d removed",
		c.Directory(), len(c.added), len(c.modified), len(c.removed))

	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.OnChanges(c)
	}

	return nil
}

// NewOnceScanner creates a scanner that scans only once.
func NewOnceScanner(m *Monitor, l logging.Logger) *OnceScanner {
	return &OnceScanner{scanner: scanner{monitor: m, log: logging.OrDefault(l, "routedir")}}
}

// Start scans the directory and notifies the listeners, synchronously.
// Only the first call has an effect.
func (s *OnceScanner) Start() {
	if !s.done.CompareAndSwap(false, true) {
		return
	}

	if err := s.scan(); err != nil {
		s.log.Errorf("failed to scan %s: %v", s.monitor.Directory(), err)
	}
}

// Stop is a no-op.
func (s *OnceScanner) Stop() {}

// NewPeriodicScanner creates a scanner that scans in the interval.
func NewPeriodicScanner(m *Monitor, interval time.Duration, l logging.Logger) *PeriodicScanner {
	return &PeriodicScanner{
		scanner:  scanner{monitor: m, log: logging.OrDefault(l, "routedir")},
		interval: interval,
		quit:     make(chan struct{}),
	}
}

// Interval returns the interval of the scans.
func (s *PeriodicScanner) Interval() time.Duration { return s.interval }

func (s *PeriodicScanner) iterate() {
	defer func() {
		if err := recover(); err != nil {
			s.log.Errorf("panic while scanning %s: %v", s.monitor.Directory(), err)
		}
	}()

	if err := s.scan(); err != nil {
		s.log.Errorf("failed to scan %s: %v", s.monitor.Directory(), err)
	}
}

func (s *PeriodicScanner) run() {
	defer s.wg.Done()

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-t.C:
			// stopping wins over a tick delivered in the same moment
			select {
			case <-s.quit:
				return
			default:
			}

			s.iterate()
		}
	}
}

// Start performs the first scan synchronously, and starts the scheduled
// scans. Calling it more than once, or after Stop, has no effect.
func (s *PeriodicScanner) Start() {
	s.stateMu.Lock()
	if s.started || s.stopped {
		s.stateMu.Unlock()
		return
	}

	s.started = true
	s.wg.Add(1)
	s.stateMu.Unlock()

	s.iterate()
	go s.run()
}

// Stop cancels the scheduled scans and waits for the one in progress.
// It is safe to call it more than once.
func (s *PeriodicScanner) Stop() {
	s.stateMu.Lock()
	if s.stopped {
		s.stateMu.Unlock()
		return
	}

	s.stopped = true
	close(s.quit)
	s.stateMu.Unlock()

	s.wg.Wait()
}
