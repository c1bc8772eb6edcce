package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"cassandra/internal/chat"
	"cassandra/internal/storage"
)

// SessionLoader loads and creates persisted sessions.
type SessionLoader interface {
	Load(ctx context.Context, id string) (*chat.Session, error)
	Create(ctx context.Context, id string) (*chat.Session, error)
}

// Deleter removes a persisted session.
type Deleter interface {
	DeleteSession(ctx context.Context, id string) error
}

type cachedSession struct {
	session    *chat.Session
	lastAccess time.Time
}

// SessionManager keeps live sessions in memory on top of the store.
// It is an LRU cache: once maxSize is exceeded the least recently used idle
// sessions are dropped and reloaded on next access.
type SessionManager struct {
	loader  SessionLoader
	cache   map[string]*cachedSession
	mu      sync.Mutex
	maxSize int

	// load serializes cache misses so one id is never loaded twice
	loadMu sync.Mutex
}

// NewSessionManager creates a new session manager.
// maxSize specifies the maximum number of sessions to keep in cache.
func NewSessionManager(loader SessionLoader, maxSize int) *SessionManager {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &SessionManager{
		loader:  loader,
		cache:   make(map[string]*cachedSession),
		maxSize: maxSize,
	}
}

// Get retrieves a session by ID.
// It first checks the cache, then falls back to the store.
func (m *SessionManager) Get(ctx context.Context, sessionID string) (*chat.Session, error) {
	if sess, ok := m.lookup(sessionID); ok {
		return sess, nil
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if sess, ok := m.lookup(sessionID); ok {
		return sess, nil
	}

	sess, err := m.loader.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	m.put(sess)
	return sess, nil
}

// GetOrCreate retrieves a session by ID or creates it if it doesn't exist.
// An empty ID always creates a new session.
func (m *SessionManager) GetOrCreate(ctx context.Context, sessionID string) (*chat.Session, error) {
	if sessionID == "" {
		return m.Create(ctx, "")
	}

	sess, err := m.Get(ctx, sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	return m.Create(ctx, sessionID)
}

// Create creates and caches a new session. An empty ID generates one.
func (m *SessionManager) Create(ctx context.Context, sessionID string) (*chat.Session, error) {
	sess, err := m.loader.Create(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	m.put(sess)
	return sess, nil
}

// Delete removes a session from cache and, when the loader supports it, from
// the store.
func (m *SessionManager) Delete(ctx context.Context, sessionID string) error {
	m.Invalidate(sessionID)

	d, ok := m.loader.(Deleter)
	if !ok {
		return nil
	}
	err := d.DeleteSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// Invalidate removes a session from the cache.
// The session remains in the store.
func (m *SessionManager) Invalidate(sessionID string) {
	m.mu.Lock()
	delete(m.cache, sessionID)
	m.mu.Unlock()
}

// Clear removes all sessions from the cache.
func (m *SessionManager) Clear() {
	m.mu.Lock()
	m.cache = make(map[string]*cachedSession)
	m.mu.Unlock()
}

// Len returns the number of cached sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

// Evict drops idle sessions not accessed since before cutoff and returns how
// many were dropped.
func (m *SessionManager) Evict(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, c := range m.cache {
		if c.lastAccess.Before(cutoff) && !c.session.Busy() {
			delete(m.cache, id)
			n++
		}
	}
	return n
}

func (m *SessionManager) lookup(sessionID string) (*chat.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cache[sessionID]
	if !ok {
		return nil, false
	}
	c.lastAccess = time.Now()
	return c.session, true
}

func (m *SessionManager) put(sess *chat.Session) {
	m.mu.Lock()
	m.cache[sess.ID] = &cachedSession{session: sess, lastAccess: time.Now()}
	m.evict()
	m.mu.Unlock()
}

// evict removes the oldest idle sessions if cache exceeds maxSize.
// Busy sessions are never dropped. Must be called with mu held.
func (m *SessionManager) evict() {
	if len(m.cache) <= m.maxSize {
		return
	}

	type entry struct {
		id         string
		lastAccess time.Time
	}
	entries := make([]entry, 0, len(m.cache))
	for id, c := range m.cache {
		if !c.session.Busy() {
			entries = append(entries, entry{id, c.lastAccess})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})

	toRemove := len(m.cache) - m.maxSize
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(m.cache, entries[i].id)
	}
}
