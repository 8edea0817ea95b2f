// Package common provides small shared utilities.
package common

import (
	"fmt"
	"time"
)

// Timer measures elapsed wall time for a named stage.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewTimer starts an unnamed timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// NewNamedTimer starts a timer with the given name.
func NewNamedTimer(name string) *Timer {
	return &Timer{name: name, start: time.Now()}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration, valid after Stop.
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// Name returns the timer name, empty if unnamed.
func (t *Timer) Name() string {
	return t.name
}

func (t *Timer) String() string {
	if t.name != "" {
		return fmt.Sprintf("%s: %v", t.name, t.duration)
	}
	return t.duration.String()
}
