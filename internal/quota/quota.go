// Package quota tracks the per-day cap on user messages.
package quota

import (
	"context"
	"sync"
	"time"
)

// DayStamp is the UTC calendar day used to bucket usage.
func DayStamp(day time.Time) string {
	return day.UTC().Format("20060102")
}

// EndOfDay is the first instant of the next UTC day.
func EndOfDay(day time.Time) time.Time {
	y, m, d := day.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// MemoryLedger keeps usage in process memory. Old days are never pruned, which is
// fine for tests and single-node development.
type MemoryLedger struct {
	mu   sync.Mutex
	used map[string]int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{used: make(map[string]int)}
}

func key(userID, companionID string, day time.Time) string {
	return userID + ":" + companionID + ":" + DayStamp(day)
}

func (l *MemoryLedger) Used(_ context.Context, userID, companionID string, day time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used[key(userID, companionID, day)], nil
}

func (l *MemoryLedger) Consume(_ context.Context, userID, companionID string, day time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.used[key(userID, companionID, day)]++
	return nil
}
