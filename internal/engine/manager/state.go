package manager

import (
	"time"

	"Go2FlowFeatures/internal/engine/flowaggregator"
)

// State is the orchestrator's position in its poll loop.
type State int

const (
	// StateWaiting means the capture source does not exist yet.
	StateWaiting State = iota
	// StateReading means a batch is being read and processed.
	StateReading
	// StateWriting means rows are being handed to the writers.
	StateWriting
	// StateSleeping means the loop waits for the next poll.
	StateSleeping
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateReading:
		return "READING"
	case StateWriting:
		return "WRITING"
	case StateSleeping:
		return "SLEEPING"
	default:
		return "UNKNOWN"
	}
}

func stateNames() []string {
	return []string{
		StateWaiting.String(),
		StateReading.String(),
		StateWriting.String(),
		StateSleeping.String(),
	}
}

// Status is a point-in-time copy of the orchestrator's progress.
type Status struct {
	RunID          string         `json:"run_id"`
	State          string         `json:"state"`
	SourcePath     string         `json:"source_path"`
	SourceOffset   int64          `json:"source_offset"`
	StartedAt      time.Time      `json:"started_at"`
	Batches        uint64         `json:"batches"`
	Packets        uint64         `json:"packets"`
	DroppedPackets uint64         `json:"dropped_packets"`
	ParseErrors    uint64         `json:"parse_errors"`
	Rows           uint64         `json:"rows"`
	Flows          int            `json:"flows"`
	PendingRows    map[string]int    `json:"pending_rows"`
	DroppedRows    map[string]uint64 `json:"dropped_rows"`
	LastBatchAt    *time.Time        `json:"last_batch_at,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	LastErrorAt    *time.Time        `json:"last_error_at,omitempty"`
}

// Status returns a copy of the current status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.status
	s.PendingRows = make(map[string]int, len(m.status.PendingRows))
	for k, v := range m.status.PendingRows {
		s.PendingRows[k] = v
	}
	s.DroppedRows = make(map[string]uint64, len(m.status.DroppedRows))
	for k, v := range m.status.DroppedRows {
		s.DroppedRows[k] = v
	}
	return s
}

// Flows returns up to limit of the busiest flows as of the last batch.
// A non-positive limit returns all retained flows.
func (m *Manager) Flows(limit int) []flowaggregator.FlowSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.flows)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]flowaggregator.FlowSnapshot, n)
	copy(out, m.flows[:n])
	return out
}
