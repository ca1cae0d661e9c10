package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zalando/routekeeper/heap"
)

const (
	DefaultCookieName  = "routekeeper-session"
	DefaultTTL         = 30 * time.Minute
	DefaultMaxSessions = 100000

	InMemoryName = "InMemorySessionManager"
)

type memoryEntry struct {
	session *Session
	expires time.Time
}

// InMemory keeps the sessions in the memory of the process, identified by
// a cookie. When the number of sessions reaches the limit, the expired ones
// are dropped, and if none expired, the one expiring first.
type InMemory struct {
	cookieName  string
	ttl         time.Duration
	maxSessions int
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]memoryEntry
}

// NewInMemory creates an in-memory session manager. Zero values select
// the defaults.
func NewInMemory(cookieName string, ttl time.Duration) *InMemory {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &InMemory{
		cookieName:  cookieName,
		ttl:         ttl,
		maxSessions: DefaultMaxSessions,
		now:         time.Now,
		sessions:    make(map[string]memoryEntry),
	}
}

func (m *InMemory) Load(r *http.Request) (*Session, error) {
	c, err := r.Cookie(m.cookieName)
	if err == nil {
		m.mu.Lock()
		e, ok := m.sessions[c.Value]
		if ok && m.now().After(e.expires) {
			delete(m.sessions, c.Value)
			ok = false
		}

		m.mu.Unlock()
		if ok {
			return e.session, nil
		}
	}

	return New(uuid.NewString()), nil
}

func (m *InMemory) sweep(now time.Time) {
	var (
		first   string
		earlier time.Time
	)

	for id, e := range m.sessions {
		if now.After(e.expires) {
			delete(m.sessions, id)
			continue
		}

		if first == "" || e.expires.Before(earlier) {
			first, earlier = id, e.expires
		}
	}

	if len(m.sessions) >= m.maxSessions && first != "" {
		delete(m.sessions, first)
	}
}

func (m *InMemory) Save(w http.ResponseWriter, _ *http.Request, s *Session) error {
	now := m.now()
	expires := now.Add(m.ttl)

	m.mu.Lock()
	_, known := m.sessions[s.ID]
	if !known && len(m.sessions) >= m.maxSessions {
		m.sweep(now)
	}

	m.sessions[s.ID] = memoryEntry{session: s, expires: expires}
	m.mu.Unlock()

	if !known {
		http.SetCookie(w, &http.Cookie{
			Name:     m.cookieName,
			Value:    s.ID,
			Path:     "/",
			HttpOnly: true,
			MaxAge:   int(m.ttl / time.Second),
		})
	}

	return nil
}

// Len returns the number of the stored sessions.
func (m *InMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close drops the stored sessions.
func (m *InMemory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]memoryEntry)
	return nil
}

type inMemorySpec struct{}

// NewInMemorySpec returns the heap spec of the in-memory session manager.
//
// Config:
//
//	{"cookieName": "session", "ttl": "15m", "maxSessions": 10000}
func NewInMemorySpec() heap.Spec { return inMemorySpec{} }

func (inMemorySpec) Name() string { return InMemoryName }

func (inMemorySpec) Create(_ *heap.Heap, config json.RawMessage) (any, error) {
	var c struct {
		CookieName  string `json:"cookieName"`
		TTL         string `json:"ttl"`
		MaxSessions int    `json:"maxSessions"`
	}

	if err := json.Unmarshal(config, &c); err != nil {
		return nil, err
	}

	var ttl time.Duration
	if c.TTL != "" {
		var err error
		ttl, err = time.ParseDuration(c.TTL)
		if err != nil {
			return nil, fmt.Errorf("invalid ttl: %w", err)
		}
	}

	if c.MaxSessions < 0 {
		return nil, fmt.Errorf("invalid maxSessions: %d", c.MaxSessions)
	}

	m := NewInMemory(c.CookieName, ttl)
	if c.MaxSessions > 0 {
		m.maxSessions = c.MaxSessions
	}

	return m, nil
}
