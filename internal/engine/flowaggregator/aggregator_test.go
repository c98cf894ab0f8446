package flowaggregator

import (
	"testing"
	"time"

	"Go2FlowFeatures/internal/model"
)

var start = time.Unix(1700000000, 0)

func record(offset time.Duration, src, dst string, size int) *model.PacketRecord {
	rec := &model.PacketRecord{Timestamp: start.Add(offset)}
	if src != "" {
		rec.SourceAddress = &src
	}
	if dst != "" {
		rec.DestinationAddress = &dst
	}
	if size >= 0 {
		rec.Size = &size
	}
	return rec
}

func TestAggregator_FirstRecord(t *testing.T) {
	agg := NewAggregator(0)
	obs := agg.Observe(record(0, "10.0.0.1", "10.0.0.2", 100))

	if obs.Delta != 0 {
		t.Errorf("First record delta should be 0, got %v", obs.Delta)
	}
	if obs.WindowFull {
		t.Errorf("First record should not have a full window")
	}
	if obs.Sequence != 1 {
		t.Errorf("First record sequence should be 1, got %d", obs.Sequence)
	}
}

func TestAggregator_SequenceIsGaplessPerPair(t *testing.T) {
	agg := NewAggregator(0)
	pairs := [][2]string{
		{"10.0.0.1", "10.0.0.2"},
		{"10.0.0.2", "10.0.0.1"},
		{"10.0.0.1", "10.0.0.2"},
		{"10.0.0.3", "10.0.0.2"},
		{"10.0.0.1", "10.0.0.2"},
		{"10.0.0.2", "10.0.0.1"},
	}
	want := []uint64{1, 1, 2, 1, 3, 2}

	for i, p := range pairs {
		// Simulate a batch boundary in the middle; state must carry over.
		if i == 3 {
			agg.EvictIdle(start.Add(time.Hour))
		}
		obs := agg.Observe(record(time.Duration(i)*time.Second, p[0], p[1], 60))
		if obs.Sequence != want[i] {
			t.Errorf("Record %d (%s->%s): sequence %d, want %d", i, p[0], p[1], obs.Sequence, want[i])
		}
	}
	if agg.FlowCount() != 3 {
		t.Errorf("Expected 3 tracked flows, got %d", agg.FlowCount())
	}
}

func TestAggregator_MissingAddressIsSingleton(t *testing.T) {
	agg := NewAggregator(0)
	for i := 0; i < 3; i++ {
		obs := agg.Observe(record(time.Duration(i)*time.Second, "", "", -1))
		if obs.Sequence != 1 {
			t.Errorf("Record %d without addresses should have sequence 1, got %d", i, obs.Sequence)
		}
	}
	if agg.FlowCount() != 0 {
		t.Errorf("Records without addresses should not be tracked, got %d flows", agg.FlowCount())
	}
}

func TestAggregator_DeltaAndWindowFollowGlobalOrder(t *testing.T) {
	agg := NewAggregator(0)
	agg.Observe(record(0, "10.0.0.1", "10.0.0.2", 100))
	obs := agg.Observe(record(500*time.Millisecond, "10.0.0.3", "10.0.0.4", 200))

	if obs.Delta != 500*time.Millisecond {
		t.Errorf("Delta should be 500ms, got %v", obs.Delta)
	}
	if !obs.WindowFull || obs.Window[0] == nil || *obs.Window[0] != 100 || obs.Window[1] == nil || *obs.Window[1] != 200 {
		t.Errorf("Window should be [100 200], got %+v", obs)
	}

	obs = agg.Observe(record(time.Second, "", "", -1))
	if obs.Window[0] == nil || *obs.Window[0] != 200 || obs.Window[1] != nil {
		t.Errorf("Window should be [200 nil], got %+v", obs.Window)
	}
}

func TestAggregator_ResetStream(t *testing.T) {
	agg := NewAggregator(0)
	agg.Observe(record(0, "10.0.0.1", "10.0.0.2", 100))
	agg.ResetStream()
	obs := agg.Observe(record(time.Second, "10.0.0.1", "10.0.0.2", 100))

	if obs.Delta != 0 || obs.WindowFull {
		t.Errorf("After ResetStream the record should be treated as first, got %+v", obs)
	}
	if obs.Sequence != 2 {
		t.Errorf("ResetStream should keep flow state, got sequence %d", obs.Sequence)
	}

	agg.Reset()
	if obs := agg.Observe(record(2*time.Second, "10.0.0.1", "10.0.0.2", 100)); obs.Sequence != 1 {
		t.Errorf("Reset should drop flow state, got sequence %d", obs.Sequence)
	}
}

func TestAggregator_EvictIdle(t *testing.T) {
	agg := NewAggregator(time.Minute)
	agg.Observe(record(0, "10.0.0.1", "10.0.0.2", 100))
	agg.Observe(record(90*time.Second, "10.0.0.3", "10.0.0.4", 100))

	if n := agg.EvictIdle(start.Add(90 * time.Second)); n != 1 {
		t.Fatalf("Expected 1 evicted flow, got %d", n)
	}
	if _, ok := agg.Flow(FlowKey{Source: "10.0.0.1", Destination: "10.0.0.2"}); ok {
		t.Errorf("Idle flow should have been evicted")
	}
	snap, ok := agg.Flow(FlowKey{Source: "10.0.0.3", Destination: "10.0.0.4"})
	if !ok || snap.PacketCount != 1 || snap.LastSize == nil || *snap.LastSize != 100 {
		t.Errorf("Active flow should be kept intact, got %+v (found %v)", snap, ok)
	}

	if n := NewAggregator(0).EvictIdle(start.Add(time.Hour)); n != 0 {
		t.Errorf("Eviction must be disabled without a TTL, evicted %d", n)
	}
}

func TestAggregator_FlowsOrdering(t *testing.T) {
	agg := NewAggregator(0)
	agg.Observe(record(0, "10.0.0.1", "10.0.0.2", 100))
	agg.Observe(record(time.Second, "10.0.0.3", "10.0.0.4", 100))
	agg.Observe(record(2*time.Second, "10.0.0.3", "10.0.0.4", 150))

	flows := agg.Flows()
	if len(flows) != 2 {
		t.Fatalf("Expected 2 flows, got %d", len(flows))
	}
	if flows[0].Key.String() != "10.0.0.3->10.0.0.4" || flows[0].PacketCount != 2 {
		t.Errorf("Busiest flow should come first, got %+v", flows[0])
	}
	if flows[0].LastSize == nil || *flows[0].LastSize != 150 {
		t.Errorf("LastSize should be 150, got %v", flows[0].LastSize)
	}
}
