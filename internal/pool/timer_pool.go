// Package pool provides a pooled timer helper for the shutdown and reply
// paths, which create short-lived timers per session.
package pool

import (
	"sync"
	"time"
)

var timers sync.Pool

// Get returns a timer set to fire after d, reusing a pooled timer when one
// is available. Return it with Put when done.
func Get(d time.Duration) *time.Timer {
	v := timers.Get()
	if v == nil {
		return time.NewTimer(d)
	}

	t := v.(*time.Timer)
	if t.Reset(d) {
		// The timer was still active; drain a pending fire so the caller
		// cannot observe a stale tick.
		select {
		case <-t.C:
		default:
		}
	}

	return t
}

// Put stops t and returns it to the pool. t must not be used after Put.
func Put(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}

	timers.Put(t)
}
