package ports

import "time"

// Timer is a handle to a scheduled callback
type Timer interface {
	Stop() bool
}

// Scheduler is the time source used for expiry checks and proactive timers
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemScheduler uses the wall clock
type SystemScheduler struct{}

func (SystemScheduler) Now() time.Time { return time.Now() }

func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
