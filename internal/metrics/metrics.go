package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "ns_extractor"

// Metrics groups the pipeline's Prometheus collectors. Every instance owns
// its registry so that several pipelines can live in one process.
type Metrics struct {
	Registry *prometheus.Registry

	Cycles          prometheus.Counter
	CycleErrors     prometheus.Counter
	Packets         prometheus.Counter
	DroppedPackets  prometheus.Counter
	ParseErrors     prometheus.Counter
	Rows            prometheus.Counter
	RowsWritten     *prometheus.CounterVec
	SinkWriteErrors *prometheus.CounterVec
	PendingRows     *prometheus.GaugeVec
	DroppedRows     *prometheus.CounterVec
	State           *prometheus.GaugeVec
	Flows           prometheus.Gauge
	EvictedFlows    prometheus.Counter
	SourceOffset    prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Poll cycles run by the orchestrator.",
		}),
		CycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycle_errors_total",
			Help: "Cycles aborted by an error or a recovered panic.",
		}),
		Packets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_read_total",
			Help: "Packets read from the capture source.",
		}),
		DroppedPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packets_dropped_total",
			Help: "Packets without an IPv4, TCP or UDP layer.",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "packet_parse_errors_total",
			Help: "Packets that only produced a best-effort record.",
		}),
		Rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "feature_rows_total",
			Help: "Feature rows computed.",
		}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_rows_written_total",
			Help: "Feature rows persisted, per sink.",
		}, []string{"sink"}),
		SinkWriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_write_errors_total",
			Help: "Failed sink writes, per sink.",
		}, []string{"sink"}),
		PendingRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sink_pending_rows",
			Help: "Rows waiting to be retried, per sink.",
		}, []string{"sink"}),
		DroppedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sink_rows_dropped_total",
			Help: "Pending rows discarded because the retry backlog was full, per sink.",
		}, []string{"sink"}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "state",
			Help: "1 for the orchestrator's current state, 0 otherwise.",
		}, []string{"state"}),
		Flows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tracked_flows",
			Help: "Flows held by the aggregator.",
		}),
		EvictedFlows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "evicted_flows_total",
			Help: "Flows evicted after exceeding the idle TTL.",
		}),
		SourceOffset: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "source_offset_bytes",
			Help: "Byte offset of the next unread capture record.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Cycles, m.CycleErrors, m.Packets, m.DroppedPackets, m.ParseErrors,
		m.Rows, m.RowsWritten, m.SinkWriteErrors, m.PendingRows, m.DroppedRows, m.State,
		m.Flows, m.EvictedFlows, m.SourceOffset,
	)
	return m
}

// SetState marks current as the active state among all.
func (m *Metrics) SetState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}
