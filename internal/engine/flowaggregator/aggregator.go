package flowaggregator

import (
	"time"

	"Go2FlowFeatures/internal/model"
)

// StreamState holds the state that depends on the global record order.
type StreamState struct {
	PreviousTimestamp time.Time
	HasPrevious       bool
	// PreviousSize is the size of the previous record, the first element of
	// the two-element rolling window.
	PreviousSize *int
}

// Observation is what the aggregator knows about a record once it has
// been folded into the running state.
type Observation struct {
	// Delta is the time since the previous record in stream order, zero
	// for the first record.
	Delta time.Duration
	// Sequence is the 1-based position of the record within its flow.
	Sequence uint64
	// Window holds the previous and current size; WindowFull is false for
	// the first record, which has no previous size.
	Window     [2]*int
	WindowFull bool
}

// Aggregator owns the per-flow and per-stream running state of one pipeline.
// It is not safe for concurrent use; records must be observed in order.
type Aggregator struct {
	flows   map[FlowKey]*FlowState
	stream  StreamState
	flowTTL time.Duration
}

// NewAggregator creates an empty aggregator. A positive flowTTL enables
// EvictIdle.
func NewAggregator(flowTTL time.Duration) *Aggregator {
	return &Aggregator{
		flows:   make(map[FlowKey]*FlowState),
		flowTTL: flowTTL,
	}
}

// Observe folds rec into the running state and returns the values the
// feature calculator needs.
func (a *Aggregator) Observe(rec *model.PacketRecord) Observation {
	var obs Observation
	if a.stream.HasPrevious {
		obs.Delta = rec.Timestamp.Sub(a.stream.PreviousTimestamp)
		obs.Window = [2]*int{a.stream.PreviousSize, rec.Size}
		obs.WindowFull = true
	}
	a.stream.PreviousTimestamp = rec.Timestamp
	a.stream.PreviousSize = rec.Size
	a.stream.HasPrevious = true

	obs.Sequence = a.observeFlow(rec)
	return obs
}

// Stream returns a copy of the stream state.
func (a *Aggregator) Stream() StreamState {
	return a.stream
}

// ResetStream forgets the stream-ordered state; the next record is treated
// as the first one.
func (a *Aggregator) ResetStream() {
	a.stream = StreamState{}
}

// Reset forgets all state.
func (a *Aggregator) Reset() {
	a.ResetStream()
	a.flows = make(map[FlowKey]*FlowState)
}
