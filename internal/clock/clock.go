// Package clock supplies wall-clock milliseconds to the rate limiter and the progression mirror.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	NowMillis() int64
}

type System struct{}

func (System) NowMillis() int64 { return time.Now().UnixMilli() }

// Fake is a manually driven clock for tests.
type Fake struct {
	mu sync.Mutex
	ms int64
}

func NewFake(ms int64) *Fake {
	return &Fake{ms: ms}
}

func (f *Fake) NowMillis() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ms
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.ms += d.Milliseconds()
	f.mu.Unlock()
}

func (f *Fake) Set(ms int64) {
	f.mu.Lock()
	f.ms = ms
	f.mu.Unlock()
}
