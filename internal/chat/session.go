package chat

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	DefaultDailyQuota   = 20
	DefaultReplyDelay   = 2000 * time.Millisecond
	DefaultReplyTimeout = 30 * time.Second
)

// Outcome tells the caller what Submit did. Every rejection is a no-op.
type Outcome int

const (
	Accepted Outcome = iota
	RejectedInvalid
	RejectedQuota
	RejectedClosed
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case RejectedInvalid:
		return "invalid"
	case RejectedQuota:
		return "quota_exhausted"
	case RejectedClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ReplyRequest is handed to a Responder when a scheduled reply fires.
type ReplyRequest struct {
	SessionID   string
	UserID      string
	CompanionID string
	History     []Message
}

// Responder produces the companion's reply text.
type Responder interface {
	Reply(ctx context.Context, req ReplyRequest) (string, error)
}

// StaticResponder always answers with the same text.
type StaticResponder string

func (r StaticResponder) Reply(context.Context, ReplyRequest) (string, error) {
	return string(r), nil
}

type Options struct {
	ID          string
	UserID      string
	CompanionID string

	// Quota is the number of user messages still allowed; negative values mean 0.
	Quota     int
	Greetings []Greeting

	ReplyDelay   time.Duration
	ReplyTimeout time.Duration
	Responder    Responder
	// Scheduler must not run f synchronously inside AfterFunc.
	Scheduler Scheduler
	Listener  Listener
	Now       func() time.Time
}

type Snapshot struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	CompanionID string    `json:"companion_id"`
	Messages    []Message `json:"messages"`
	Remaining   int       `json:"remaining"`
	Typing      bool      `json:"typing"`
	Draft       string    `json:"draft"`
	Closed      bool      `json:"closed"`
}

// Session is one user's open chat with one companion.
//
// Reply timers fire on their own goroutines, so state sits behind mu. emitMu is
// taken before mu by every mutation and held while the listener runs, which keeps
// events in the same order as the log.
type Session struct {
	id          string
	userID      string
	companionID string

	delay        time.Duration
	replyTimeout time.Duration
	responder    Responder
	scheduler    Scheduler
	listener     Listener
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	emitMu sync.Mutex

	mu        sync.Mutex
	log       []Message
	lastID    uint64
	remaining int
	draft     string
	pending   map[uint64]Timer
	closed    bool
}

func NewSession(opts Options) *Session {
	if opts.ReplyDelay <= 0 {
		opts.ReplyDelay = DefaultReplyDelay
	}
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Quota < 0 {
		opts.Quota = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           opts.ID,
		userID:       opts.UserID,
		companionID:  opts.CompanionID,
		delay:        opts.ReplyDelay,
		replyTimeout: opts.ReplyTimeout,
		responder:    opts.Responder,
		scheduler:    opts.Scheduler,
		listener:     opts.Listener,
		now:          opts.Now,
		ctx:          ctx,
		cancel:       cancel,
		log:          make([]Message, 0, len(opts.Greetings)+16),
		remaining:    opts.Quota,
		pending:      make(map[uint64]Timer),
	}

	// greetings are fixtures and count as read; bodies are clamped like replies
	base := s.now()
	for i, g := range opts.Greetings {
		s.appendLocked(g.Author, clampReply(g.Body), true)
		s.log[len(s.log)-1].CreatedAt = base.Add(-time.Duration(len(opts.Greetings)-i) * time.Minute)
	}
	return s
}

func (s *Session) ID() string          { return s.id }
func (s *Session) UserID() string      { return s.userID }
func (s *Session) CompanionID() string { return s.companionID }

// Submit validates text and, when accepted, appends it and schedules the companion's reply.
func (s *Session) Submit(text string) (Message, Outcome) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Message{}, RejectedClosed
	}
	body, ok := NormalizeBody(text)
	if !ok {
		s.mu.Unlock()
		return Message{}, RejectedInvalid
	}
	if s.remaining <= 0 {
		s.mu.Unlock()
		return Message{}, RejectedQuota
	}

	wasTyping := len(s.pending) > 0
	msg := s.appendLocked(AuthorUser, body, false)
	s.remaining--
	s.draft = ""
	id := msg.ID
	s.pending[id] = s.scheduler.AfterFunc(s.delay, func() { s.deliverReply(id) })
	remaining := s.remaining
	s.mu.Unlock()

	s.emit(Event{Type: EventMessage, Message: &msg, Typing: true, Remaining: remaining})
	if !wasTyping {
		s.emit(Event{Type: EventTyping, Typing: true, Remaining: remaining})
	}
	return msg, Accepted
}

// SubmitDraft submits the composed-text buffer.
func (s *Session) SubmitDraft() (Message, Outcome) {
	return s.Submit(s.Draft())
}

func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.draft = text
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// MarkDelivered flags a user message as read. It reports whether id names a user message.
func (s *Session) MarkDelivered(id uint64) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	i := s.indexLocked(id)
	if i < 0 || s.log[i].Author != AuthorUser {
		s.mu.Unlock()
		return false
	}
	if s.log[i].Read {
		s.mu.Unlock()
		return true
	}
	s.log[i].Read = true
	msg := s.log[i]
	typing := len(s.pending) > 0
	remaining := s.remaining
	s.mu.Unlock()

	s.emit(Event{Type: EventRead, Message: &msg, Typing: typing, Remaining: remaining})
	return true
}

func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.log...)
}

func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

func (s *Session) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:   s.id,
		UserID:      s.userID,
		CompanionID: s.companionID,
		Messages:    append([]Message(nil), s.log...),
		Remaining:   s.remaining,
		Typing:      len(s.pending) > 0,
		Draft:       s.draft,
		Closed:      s.closed,
	}
}

// Close cancels every pending reply. Nothing is appended to the log afterwards.
func (s *Session) Close() {
	s.cancel()

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
	remaining := s.remaining
	s.mu.Unlock()

	s.emit(Event{Type: EventClosed, Remaining: remaining})
}

func (s *Session) deliverReply(trigger uint64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	req := ReplyRequest{
		SessionID:   s.id,
		UserID:      s.userID,
		CompanionID: s.companionID,
		History:     append([]Message(nil), s.log...),
	}
	s.mu.Unlock()

	body := s.compose(req)

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, trigger)
	msg := s.appendLocked(AuthorCompanion, body, false)
	typing := len(s.pending) > 0
	remaining := s.remaining
	s.mu.Unlock()

	s.emit(Event{Type: EventMessage, Message: &msg, Typing: typing, Remaining: remaining})
	if !typing {
		s.emit(Event{Type: EventTyping, Typing: false, Remaining: remaining})
	}
}

func (s *Session) compose(req ReplyRequest) string {
	if s.responder == nil {
		return PlaceholderReply
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.replyTimeout)
	defer cancel()

	text, err := s.responder.Reply(ctx, req)
	if err != nil {
		if s.ctx.Err() == nil {
			log.Printf("[Session] reply failed session_id=%s companion_id=%s err=%v", s.id, s.companionID, err)
		}
		return PlaceholderReply
	}
	return clampReply(text)
}

// clampReply keeps responder output within the body limits.
func clampReply(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return PlaceholderReply
	}
	if utf8.RuneCountInString(text) <= MaxBodyLen {
		return text
	}
	r := []rune(text)
	return strings.TrimSpace(string(r[:MaxBodyLen]))
}

func (s *Session) appendLocked(author Author, body string, read bool) Message {
	s.lastID++
	m := Message{
		ID:        s.lastID,
		Body:      body,
		Author:    author,
		CreatedAt: s.now(),
		Read:      read,
	}
	s.log = append(s.log, m)
	return m
}

// indexLocked relies on IDs being assigned in append order.
func (s *Session) indexLocked(id uint64) int {
	i := sort.Search(len(s.log), func(i int) bool { return s.log[i].ID >= id })
	if i < len(s.log) && s.log[i].ID == id {
		return i
	}
	return -1
}

func (s *Session) emit(e Event) {
	if s.listener == nil {
		return
	}
	e.SessionID = s.id
	e.UserID = s.userID
	e.CompanionID = s.companionID
	if e.At.IsZero() {
		e.At = s.now()
	}
	s.listener.OnEvent(e)
}
