package chat

import "time"

// Timer is a cancellable handle for a scheduled task.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. Sessions keep the returned handle so Close can cancel it.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemScheduler schedules on the runtime timer heap.
func SystemScheduler() Scheduler { return systemScheduler{} }
