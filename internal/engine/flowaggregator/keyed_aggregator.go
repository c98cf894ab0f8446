package flowaggregator

import (
	"sort"
	"time"

	"Go2FlowFeatures/internal/model"
)

// FlowKey identifies a flow by its ordered address pair.
type FlowKey struct {
	Source      string
	Destination string
}

// String renders the key the way flows are shown in logs and the status API.
func (k FlowKey) String() string {
	return k.Source + "->" + k.Destination
}

// FlowState is the running state of one flow.
type FlowState struct {
	PacketCount uint64
	LastSize    *int
	LastSeen    time.Time
}

// FlowSnapshot is a copy of one flow's state.
type FlowSnapshot struct {
	Key         FlowKey
	PacketCount uint64
	LastSize    *int
	LastSeen    time.Time
}

// keyOf returns the flow key of a record, or false when either address is
// missing. Such records are singleton flows and are never stored.
func keyOf(rec *model.PacketRecord) (FlowKey, bool) {
	if rec.SourceAddress == nil || rec.DestinationAddress == nil {
		return FlowKey{}, false
	}
	return FlowKey{Source: *rec.SourceAddress, Destination: *rec.DestinationAddress}, true
}

// observeFlow creates or advances the flow state of rec and returns its
// sequence number within the flow.
func (a *Aggregator) observeFlow(rec *model.PacketRecord) uint64 {
	key, ok := keyOf(rec)
	if !ok {
		return 1
	}
	flow, exists := a.flows[key]
	if !exists {
		flow = &FlowState{}
		a.flows[key] = flow
	}
	flow.PacketCount++
	flow.LastSize = rec.Size
	flow.LastSeen = rec.Timestamp
	return flow.PacketCount
}

// FlowCount returns the number of tracked flows.
func (a *Aggregator) FlowCount() int {
	return len(a.flows)
}

// Flow returns a copy of the state of the flow identified by key.
func (a *Aggregator) Flow(key FlowKey) (FlowSnapshot, bool) {
	flow, ok := a.flows[key]
	if !ok {
		return FlowSnapshot{}, false
	}
	return snapshotOf(key, flow), true
}

// Flows returns copies of all tracked flows, busiest first.
func (a *Aggregator) Flows() []FlowSnapshot {
	out := make([]FlowSnapshot, 0, len(a.flows))
	for key, flow := range a.flows {
		out = append(out, snapshotOf(key, flow))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PacketCount != out[j].PacketCount {
			return out[i].PacketCount > out[j].PacketCount
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// EvictIdle removes flows whose last packet is older than the TTL relative
// to now, which is a capture timestamp. It returns the number of evicted flows.
func (a *Aggregator) EvictIdle(now time.Time) int {
	if a.flowTTL <= 0 {
		return 0
	}
	threshold := now.Add(-a.flowTTL)
	evicted := 0
	for key, flow := range a.flows {
		if flow.LastSeen.Before(threshold) {
			delete(a.flows, key)
			evicted++
		}
	}
	return evicted
}

func snapshotOf(key FlowKey, flow *FlowState) FlowSnapshot {
	var lastSize *int
	if flow.LastSize != nil {
		v := *flow.LastSize
		lastSize = &v
	}
	return FlowSnapshot{
		Key:         key,
		PacketCount: flow.PacketCount,
		LastSize:    lastSize,
		LastSeen:    flow.LastSeen,
	}
}
