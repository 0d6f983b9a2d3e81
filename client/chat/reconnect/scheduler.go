package reconnect

import "time"

// Timer is a pending scheduled task.
type Timer interface {
	Stop() bool
}

// Scheduler runs fn once after d. Tests substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// SystemScheduler uses time.AfterFunc.
var SystemScheduler Scheduler = clockScheduler{}
