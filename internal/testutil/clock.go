package testutil

import (
	"fmt"
	"sync"
	"time"

	"todo-go/internal/todo"
)

var (
	_ todo.Clock       = (*StubClock)(nil)
	_ todo.IDGenerator = (*StubIDGenerator)(nil)
)

// StubClock is a manually advanced todo.Clock. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock set to the given time.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to 2024-01-15 10:30:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Millis returns the current time as epoch milliseconds, the unit stored in
// task timestamps.
func (c *StubClock) Millis() int64 {
	return c.Now().UnixMilli()
}

// Advance moves the clock forward by d. A negative d moves it back, which
// tests use to simulate clock skew between devices.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StubIDGenerator hands out sequential document ids: "id-1", "id-2", etc.
type StubIDGenerator struct {
	mu      sync.Mutex
	counter int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("id-%d", g.counter)
}
