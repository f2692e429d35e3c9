package chat

import (
	"context"
	"log"
	"sync"
	"time"
)

type ApplyFunc func(ctx context.Context, e Event) error

// Persistable reports whether e carries a message change worth storing.
func Persistable(e Event) bool {
	return e.Message != nil && (e.Type == EventMessage || e.Type == EventRead)
}

// UserMessage reports whether e is a newly accepted user message.
func UserMessage(e Event) bool {
	return e.Type == EventMessage && e.Message != nil && e.Message.Author == AuthorUser
}

// AsyncSink hands events to one background writer, so a session never waits on I/O.
// Events are applied in arrival order; when the buffer is full they are dropped,
// after waiting up to the BlockFor duration if one is set.
type AsyncSink struct {
	name    string
	filter  func(Event) bool
	apply   ApplyFunc
	timeout time.Duration
	wait    time.Duration

	mu     sync.RWMutex
	closed bool
	ch     chan Event
	done   chan struct{}
}

type SinkOption func(*AsyncSink)

// BlockFor makes OnEvent wait up to d for buffer space before dropping an event.
// The emitting session stalls for that long, so keep d short.
func BlockFor(d time.Duration) SinkOption {
	return func(s *AsyncSink) { s.wait = d }
}

func NewAsyncSink(name string, buffer int, filter func(Event) bool, apply ApplyFunc, opts ...SinkOption) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &AsyncSink{
		name:    name,
		filter:  filter,
		apply:   apply,
		timeout: 5 * time.Second,
		ch:      make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.run()
	return s
}

func (s *AsyncSink) OnEvent(e Event) {
	if s.filter != nil && !s.filter(e) {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
		return
	default:
	}
	if s.wait > 0 {
		t := time.NewTimer(s.wait)
		defer t.Stop()
		select {
		case s.ch <- e:
			return
		case <-t.C:
		}
	}
	log.Printf("[%s] buffer full, dropping event type=%s session_id=%s", s.name, e.Type, e.SessionID)
}

// Close stops accepting events and waits for the buffered ones to be applied.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	<-s.done
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for e := range s.ch {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.apply(ctx, e)
		cancel()
		if err != nil {
			log.Printf("[%s] apply failed type=%s session_id=%s cost=%s err=%v", s.name, e.Type, e.SessionID, time.Since(start), err)
		}
	}
}
