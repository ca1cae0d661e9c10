package routedir

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/routekeeper/logging/loggingtest"
)

type recorder struct {
	mu      sync.Mutex
	changes []ChangeSet
}

func (r *recorder) OnChanges(c ChangeSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) received() []ChangeSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChangeSet(nil), r.changes...)
}

func TestOnceScanner(t *testing.T) {
	dir := t.TempDir()
	login := writeRoute(t, dir, "login", `{"handler": "X", "name": "login"}`, baseTime)

	r := &recorder{}
	s := NewOnceScanner(NewMonitor(dir), nil)
	s.Register(r)

	s.Start()
	writeRoute(t, dir, "later", `{}`, baseTime)
	s.Start()
	s.Stop()

	received := r.received()
	require.Len(t, received, 1)
	assert.Equal(t, []string{login}, received[0].Added())
}

func TestOnceScannerNoChanges(t *testing.T) {
	r := &recorder{}
	s := NewOnceScanner(NewMonitor(t.TempDir()), nil)
	s.Register(r)
	s.Start()
	assert.Empty(t, r.received())
}

func TestScanSkippedWhenBusy(t *testing.T) {
	dir := t.TempDir()
	writeRoute(t, dir, "a", `{}`, baseTime)

	m := NewMonitor(dir)
	r := &recorder{}
	s := NewOnceScanner(m, nil)
	s.Register(r)

	m.scanMu.Lock()
	err := s.scan()
	m.scanMu.Unlock()

	assert.NoError(t, err)
	assert.Empty(t, r.received())
}

func TestPeriodicScanner(t *testing.T) {
	dir := t.TempDir()
	login := writeRoute(t, dir, "login", `{}`, baseTime)

	r := &recorder{}
	s := NewPeriodicScanner(NewMonitor(dir), 10*time.Millisecond, nil)
	s.Register(r)
	defer s.Stop()

	s.Start()

	// the first scan is done by Start
	received := r.received()
	require.Len(t, received, 1)
	assert.Equal(t, []string{login}, received[0].Added())

	logout := writeRoute(t, dir, "logout", `{}`, baseTime)
	require.Eventually(t, func() bool { return len(r.received()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{logout}, r.received()[1].Added())
}

func TestPeriodicScannerStop(t *testing.T) {
	dir := t.TempDir()
	r := &recorder{}
	s := NewPeriodicScanner(NewMonitor(dir), 5*time.Millisecond, nil)
	s.Register(r)
	s.Start()
	s.Stop()
	s.Stop()

	writeRoute(t, dir, "late", `{}`, baseTime)
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, r.received())
}

func TestPeriodicScannerStopBeforeStart(t *testing.T) {
	dir := t.TempDir()
	writeRoute(t, dir, "a", `{}`, baseTime)

	r := &recorder{}
	s := NewPeriodicScanner(NewMonitor(dir), 5*time.Millisecond, nil)
	s.Register(r)
	s.Stop()
	s.Start()
	assert.Empty(t, r.received())
}

func TestPeriodicScannerSurvivesPanics(t *testing.T) {
	l := loggingtest.New()
	defer l.Close()

	dir := t.TempDir()
	writeRoute(t, dir, "a", `{}`, baseTime)

	r := &recorder{}
	calls := 0
	s := NewPeriodicScanner(NewMonitor(dir), 5*time.Millisecond, l)
	s.Register(ListenerFunc(func(c ChangeSet) {
		calls++
		if calls == 1 {
			panic("listener failure")
		}

		r.OnChanges(c)
	}))
	defer s.Stop()

	s.Start()
	require.NoError(t, l.WaitFor("panic while scanning", time.Second))

	b := writeRoute(t, dir, "b", `{}`, baseTime)
	require.Eventually(t, func() bool { return len(r.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{b}, r.received()[0].Added())
}

func TestPeriodicScannerLogsErrors(t *testing.T) {
	l := loggingtest.New()
	defer l.Close()

	file := writeRoute(t, t.TempDir(), "plain", `{}`, baseTime)
	s := NewPeriodicScanner(NewMonitor(file), 5*time.Millisecond, l)
	defer s.Stop()

	s.Start()
	assert.NoError(t, l.WaitForN("failed to scan", 2, time.Second))
}

func TestNewScanner(t *testing.T) {
	m := NewMonitor(t.TempDir())
	assert.IsType(t, &OnceScanner{}, NewScanner(m, 0, nil))
	assert.IsType(t, &OnceScanner{}, NewScanner(m, -time.Second, nil))

	s := NewScanner(m, time.Minute, nil)
	require.IsType(t, &PeriodicScanner{}, s)
	assert.Equal(t, time.Minute, s.(*PeriodicScanner).Interval())
}

func TestParseInterval(t *testing.T) {
	for _, test := range []struct {
		input    string
		expected time.Duration
		fail     bool
	}{
		{input: "", expected: 0},
		{input: "disabled", expected: 0},
		{input: "Unlimited", expected: 0},
		{input: "never", expected: 0},
		{input: "off", expected: 0},
		{input: "10", expected: 10 * time.Second},
		{input: "-1", expected: -time.Second},
		{input: "1m30s", expected: 90 * time.Second},
		{input: " 250ms ", expected: 250 * time.Millisecond},
		{input: "soon", fail: true},
	} {
		t.Run(test.input, func(t *testing.T) {
			d, err := ParseInterval(test.input)
			if test.fail {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.expected, d)
		})
	}
}
