package todo

import "sync"

// Phase is the connectivity state of one sync channel or of the whole app.
type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhaseSyncing    Phase = "syncing"
	PhaseOnline     Phase = "online"
	PhaseOffline    Phase = "offline"
)

// Sync channel names used by the repositories.
const (
	TasksChannel      = "tasks"
	CategoriesChannel = "categories"
)

// SyncSnapshot is the state of one channel, or the aggregate of all channels.
type SyncSnapshot struct {
	Phase   Phase  `json:"phase"`
	Message string `json:"message,omitempty"`
}

// SyncStatus reduces per-channel phases into one user-facing status.
// Priority is offline > connecting > syncing > online; with no channels
// the status is connecting. Safe for concurrent use.
type SyncStatus struct {
	mu       sync.Mutex
	channels map[string]SyncSnapshot
	order    []string // first-report order, used to pick the offline message
	state    *Stream[SyncSnapshot]
}

// NewSyncStatus creates an aggregator in the connecting state.
func NewSyncStatus() *SyncStatus {
	return &SyncStatus{
		channels: make(map[string]SyncSnapshot),
		state:    NewStream(SyncSnapshot{Phase: PhaseConnecting}),
	}
}

// Update records the phase of channel. Reporting the same phase and message
// twice is a no-op. Observers of State must not call Update.
func (s *SyncStatus) Update(channel string, phase Phase, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := SyncSnapshot{Phase: phase, Message: message}
	prev, ok := s.channels[channel]
	if ok && prev == next {
		return
	}
	if !ok {
		s.order = append(s.order, channel)
	}
	s.channels[channel] = next

	agg := s.aggregate()
	if agg != s.state.Value() {
		s.state.Publish(agg)
	}
}

// State returns the aggregate status stream.
func (s *SyncStatus) State() Observable[SyncSnapshot] {
	return s.state
}

// Channel returns the last reported state of one channel.
func (s *SyncStatus) Channel(name string) (SyncSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.channels[name]
	return snap, ok
}

func (s *SyncStatus) aggregate() SyncSnapshot {
	if len(s.order) == 0 {
		return SyncSnapshot{Phase: PhaseConnecting}
	}
	var connecting, syncing bool
	for _, name := range s.order {
		switch s.channels[name].Phase {
		case PhaseOffline:
			return SyncSnapshot{Phase: PhaseOffline, Message: s.channels[name].Message}
		case PhaseConnecting:
			connecting = true
		case PhaseSyncing:
			syncing = true
		}
	}
	switch {
	case connecting:
		return SyncSnapshot{Phase: PhaseConnecting}
	case syncing:
		return SyncSnapshot{Phase: PhaseSyncing}
	}
	return SyncSnapshot{Phase: PhaseOnline}
}
