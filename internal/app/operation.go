package app

import (
	"strings"
	"time"

	"todo-go/internal/todo"
)

// Session is one CLI invocation. Its short ID tags every log line so
// concurrent processes sharing a log file can be told apart.
type Session struct {
	ID      string
	Command string
	Started time.Time
	Status  string // "success" or "error"
}

// NewSession starts a session for command.
func NewSession(command string, clock todo.Clock, ids todo.IDGenerator) *Session {
	id := ids.New()
	if i := strings.IndexByte(id, '-'); i > 0 {
		id = id[:i]
	}
	return &Session{
		ID:      id,
		Command: command,
		Started: clock.Now(),
		Status:  "success",
	}
}

// Fail marks the session as failed. A failed session stays failed.
func (s *Session) Fail() {
	s.Status = "error"
}

// Elapsed reports the time since the session started.
func (s *Session) Elapsed(clock todo.Clock) time.Duration {
	return clock.Now().Sub(s.Started)
}
