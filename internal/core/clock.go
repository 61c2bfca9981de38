package core

import "time"

// Timer is a cancellable one-shot. Stop after firing is a no-op.
type Timer interface {
	Stop() bool
}

// Clock exists so grace periods and cooldowns are testable without
// sleeping. The real implementation delegates to package time.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func NewClock() Clock { return realClock{} }
