package chat

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/suPer8Hu/companion-chat/internal/companion"
)

var (
	ErrCompanionNotFound = errors.New("companion not found")
	ErrSessionNotFound   = errors.New("session not found")
)

// QuotaLedger records how many messages a user sent to a companion on a given day.
type QuotaLedger interface {
	Used(ctx context.Context, userID, companionID string, day time.Time) (int, error)
	Consume(ctx context.Context, userID, companionID string, day time.Time) error
}

type ManagerOptions struct {
	Registry companion.Registry
	// Ledger is optional; without it every session starts with the full quota.
	Ledger    QuotaLedger
	Responder Responder
	Scheduler Scheduler
	Listener  Listener

	DailyQuota   int
	ReplyDelay   time.Duration
	ReplyTimeout time.Duration
	Now          func() time.Time
}

type pairKey struct {
	userID      string
	companionID string
}

// Manager owns the open sessions. One session per (user, companion) pair is open
// at a time; opening a new one closes the previous.
type Manager struct {
	opts ManagerOptions

	mu       sync.Mutex
	sessions map[string]*Session
	byPair   map[pairKey]string
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.DailyQuota <= 0 {
		opts.DailyQuota = DefaultDailyQuota
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
		byPair:   make(map[pairKey]string),
	}
}

func (m *Manager) Open(ctx context.Context, userID, companionID string) (*Session, error) {
	profile, err := m.opts.Registry.Lookup(ctx, userID, companionID)
	if err != nil {
		if errors.Is(err, companion.ErrNotFound) {
			return nil, ErrCompanionNotFound
		}
		return nil, err
	}

	remaining := m.opts.DailyQuota
	if m.opts.Ledger != nil {
		used, err := m.opts.Ledger.Used(ctx, userID, companionID, m.opts.Now())
		if err != nil {
			log.Printf("[Manager] quota lookup failed user_id=%s companion_id=%s err=%v", userID, companionID, err)
		} else {
			remaining -= used
		}
	}

	sid, err := NewSessionID()
	if err != nil {
		return nil, err
	}

	s := NewSession(Options{
		ID:           sid,
		UserID:       userID,
		CompanionID:  profile.ID,
		Quota:        remaining,
		Greetings:    DefaultGreetings(profile.Name),
		ReplyDelay:   m.opts.ReplyDelay,
		ReplyTimeout: m.opts.ReplyTimeout,
		Responder:    m.opts.Responder,
		Scheduler:    m.opts.Scheduler,
		Listener:     m.opts.Listener,
		Now:          m.opts.Now,
	})

	key := pairKey{userID: userID, companionID: profile.ID}
	m.mu.Lock()
	prev := m.sessions[m.byPair[key]]
	if prev != nil {
		delete(m.sessions, prev.ID())
	}
	m.sessions[sid] = s
	m.byPair[key] = sid
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return s, nil
}

// Get hides sessions of other users behind ErrSessionNotFound.
func (m *Manager) Get(userID, sessionID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok || s.UserID() != userID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) Close(userID, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID() != userID {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	key := pairKey{userID: s.UserID(), companionID: s.CompanionID()}
	if m.byPair[key] == sessionID {
		delete(m.byPair, key)
	}
	m.mu.Unlock()

	s.Close()
	return nil
}

// Len reports the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every open session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.sessions = make(map[string]*Session)
	m.byPair = make(map[pairKey]string)
	m.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
}
