package server

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/tern/vm"
)

// Session is one evaluation context: a VM whose globals persist across
// requests, plus the buffer its print statements write to.
type Session struct {
	ID     string
	worker *VMWorker
	out    *bytes.Buffer

	mu       sync.Mutex
	lastUsed time.Time
}

// Do runs fn on the session's VM and returns whatever it printed.
func (s *Session) Do(ctx context.Context, fn func(*vm.VM) any) (any, string, error) {
	s.touch()
	result, err := s.worker.Do(ctx, func(v *vm.VM) any {
		s.out.Reset()
		value := fn(v)
		return sessionResult{value: value, printed: s.out.String()}
	})
	if err != nil {
		return nil, "", err
	}
	r := result.(sessionResult)
	return r.value, r.printed, nil
}

type sessionResult struct {
	value   any
	printed string
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed.Before(cutoff)
}

// VMFactory builds the VM behind a new session. Print output must go to w.
type VMFactory func(w *bytes.Buffer) *vm.VM

// SessionStore manages evaluation sessions keyed by UUID.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	newVM    VMFactory
}

// NewSessionStore creates a new session store.
func NewSessionStore(newVM VMFactory) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		newVM:    newVM,
	}
}

// Create starts a new session with a fresh VM.
func (s *SessionStore) Create() *Session {
	out := &bytes.Buffer{}
	session := &Session{
		ID:       uuid.NewString(),
		worker:   NewVMWorker(s.newVM(out)),
		out:      out,
		lastUsed: time.Now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Destroy removes a session and stops its VM worker.
func (s *SessionStore) Destroy(id string) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		session.worker.Stop()
	}
}

// DestroyAll stops every session.
func (s *SessionStore) DestroyAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, session := range sessions {
		session.worker.Stop()
	}
}

// Sweep destroys sessions that haven't been used within the TTL.
func (s *SessionStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	var expired []*Session
	for id, session := range s.sessions {
		if session.idleSince(cutoff) {
			expired = append(expired, session)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, session := range expired {
		session.worker.Stop()
	}
	return len(expired)
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *SessionStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
