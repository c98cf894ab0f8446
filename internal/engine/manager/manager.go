package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"Go2FlowFeatures/internal/config"
	"Go2FlowFeatures/internal/engine/features"
	"Go2FlowFeatures/internal/engine/flowaggregator"
	"Go2FlowFeatures/internal/engine/protocol"
	"Go2FlowFeatures/internal/metrics"
	"Go2FlowFeatures/internal/model"
	"Go2FlowFeatures/pkg/pcap"

	"github.com/fsnotify/fsnotify"
	"github.com/google/gopacket"
	"github.com/sirupsen/logrus"
)

// maxStatusFlows caps the flow list copied for status readers.
const maxStatusFlows = 1000

// sinkQueue holds the rows a writer has not accepted yet.
type sinkQueue struct {
	writer  model.Writer
	pending []model.FeatureRow
}

// Manager drives the capture-to-feature-table pipeline: it polls the
// capture source, reads bounded batches, derives feature rows and hands
// them to every writer. All pipeline state is owned by the Run goroutine;
// Status and Flows may be called from any goroutine.
type Manager struct {
	runID        string
	reader       *pcap.StreamReader
	calc         *features.Calculator
	sinks        []*sinkQueue
	batchSize    int
	maxPending   int
	pollInterval time.Duration
	windowScope  string
	watch        bool
	log          logrus.FieldLogger
	metrics      *metrics.Metrics

	state    State
	observer func(State)
	wake     chan struct{}

	mu     sync.RWMutex
	status Status
	flows  []flowaggregator.FlowSnapshot
}

// NewManager creates a Manager from the extractor section of cfg. Writers
// are used in order and closed by Close; m may be nil.
func NewManager(cfg *config.Config, runID string, writers []model.Writer, logger logrus.FieldLogger, m *metrics.Metrics) (*Manager, error) {
	if len(writers) == 0 {
		return nil, fmt.Errorf("at least one writer is required")
	}
	if cfg.Extractor.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	poll, err := cfg.PollInterval()
	if err != nil {
		return nil, err
	}
	ttl, err := cfg.FlowTTL()
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = metrics.New()
	}

	logger = logger.WithField("run_id", runID)
	sinks := make([]*sinkQueue, len(writers))
	pending := make(map[string]int, len(writers))
	dropped := make(map[string]uint64, len(writers))
	for i, w := range writers {
		sinks[i] = &sinkQueue{writer: w}
		pending[w.Name()] = 0
		dropped[w.Name()] = 0
	}
	maxPending := cfg.Extractor.MaxPendingRows
	if maxPending <= 0 {
		maxPending = cfg.Extractor.BatchSize
	}

	mgr := &Manager{
		runID:        runID,
		reader:       pcap.NewStreamReader(cfg.Extractor.SourcePath, logger),
		calc:         features.NewCalculator(flowaggregator.NewAggregator(ttl), logger),
		sinks:        sinks,
		batchSize:    cfg.Extractor.BatchSize,
		maxPending:   maxPending,
		pollInterval: poll,
		windowScope:  cfg.Extractor.WindowScope,
		watch:        cfg.Extractor.Watch,
		log:          logger,
		metrics:      m,
		state:        StateWaiting,
		wake:         make(chan struct{}, 1),
	}
	mgr.status = Status{
		RunID:       runID,
		State:       StateWaiting.String(),
		SourcePath:  cfg.Extractor.SourcePath,
		StartedAt:   time.Now(),
		PendingRows: pending,
		DroppedRows: dropped,
	}
	return mgr, nil
}

// OnStateChange registers fn to be called on every state transition, from
// the Run goroutine. It must be set before Run.
func (m *Manager) OnStateChange(fn func(State)) {
	m.observer = fn
}

// Metrics returns the collectors the manager updates.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

// Run polls the capture source until ctx is cancelled. It never returns
// because of a pipeline error; every failure is logged and retried on the
// next cycle.
func (m *Manager) Run(ctx context.Context) error {
	m.log.WithFields(logrus.Fields{
		"source":        m.reader.Path(),
		"batch_size":    m.batchSize,
		"poll_interval": m.pollInterval,
		"window_scope":  m.windowScope,
	}).Info("Starting feature extraction")
	m.metrics.SetState(m.state.String(), stateNames())

	if m.watch {
		if err := m.startWatcher(ctx); err != nil {
			m.log.WithError(err).Warn("Filesystem notifications unavailable, relying on polling")
		}
	}

	for {
		more := m.cycle()
		if ctx.Err() != nil {
			break
		}
		if more {
			continue
		}

		m.transition(StateSleeping)
		timer := time.NewTimer(m.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		case <-m.wake:
			timer.Stop()
		}
		if ctx.Err() != nil {
			break
		}
	}

	m.log.Info("Feature extraction stopped")
	return nil
}

// Close flushes what is still pending, then closes every writer.
func (m *Manager) Close() error {
	m.flush()
	var errs []error
	for _, q := range m.sinks {
		if len(q.pending) > 0 {
			m.log.WithFields(logrus.Fields{"sink": q.writer.Name(), "rows": len(q.pending)}).
				Error("Discarding rows that could not be written")
		}
		if err := q.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", q.writer.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// cycle runs one WAITING/READING/WRITING pass. It reports whether another
// batch is ready to be read without waiting.
func (m *Manager) cycle() (more bool) {
	m.metrics.Cycles.Inc()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in cycle: %v", r)
			m.log.WithField("stack", string(debug.Stack())).WithError(err).Error("Recovered from pipeline failure")
			m.recordError(err)
			more = false
		}
	}()

	if _, err := os.Stat(m.reader.Path()); err != nil {
		m.transition(StateWaiting)
		m.log.WithField("source", m.reader.Path()).Info("Capture source not found, waiting")
		m.flush()
		return false
	}

	m.transition(StateReading)
	packets, err := m.reader.Next(m.batchSize)
	m.metrics.SourceOffset.Set(float64(m.reader.Offset()))
	if err != nil {
		m.log.WithError(err).Error("Error reading capture source")
		m.recordError(err)
		// Packets read before the error are still processed; the reader
		// has already moved past them.
	}
	if len(packets) == 0 {
		m.flush()
		return false
	}

	rows := m.process(packets)
	written := true
	if len(rows) > 0 || m.hasPending() {
		m.transition(StateWriting)
		for _, q := range m.sinks {
			q.pending = append(q.pending, rows...)
			m.trimPending(q)
		}
		written = m.flush()
	}

	m.log.WithFields(logrus.Fields{
		"packets": len(packets),
		"rows":    len(rows),
		"offset":  m.reader.Offset(),
	}).Info("Batch processed")

	return err == nil && written && len(packets) == m.batchSize
}

// process turns one batch of packets into feature rows.
func (m *Manager) process(packets []gopacket.Packet) []model.FeatureRow {
	if m.windowScope == config.WindowScopeBatch {
		m.calc.Aggregator().Reset()
	}

	records, dropped, malformed := protocol.ExtractAll(packets, m.log)
	rows := m.calc.ComputeBatch(records)

	agg := m.calc.Aggregator()
	evicted := 0
	if len(records) > 0 {
		evicted = agg.EvictIdle(records[len(records)-1].Timestamp)
		if evicted > 0 {
			m.log.WithField("flows", evicted).Debug("Evicted idle flows")
		}
	}

	m.metrics.Packets.Add(float64(len(packets)))
	m.metrics.DroppedPackets.Add(float64(dropped))
	m.metrics.ParseErrors.Add(float64(malformed))
	m.metrics.Rows.Add(float64(len(rows)))
	m.metrics.EvictedFlows.Add(float64(evicted))
	m.metrics.Flows.Set(float64(agg.FlowCount()))

	flows := agg.Flows()
	if len(flows) > maxStatusFlows {
		flows = flows[:maxStatusFlows]
	}

	m.mu.Lock()
	m.status.Batches++
	m.status.Packets += uint64(len(packets))
	m.status.DroppedPackets += uint64(dropped)
	m.status.ParseErrors += uint64(malformed)
	m.status.Rows += uint64(len(rows))
	m.status.Flows = agg.FlowCount()
	m.status.SourceOffset = m.reader.Offset()
	now := time.Now()
	m.status.LastBatchAt = &now
	m.flows = flows
	m.mu.Unlock()

	return rows
}

// flush hands every sink its pending rows. Rows stay queued for a sink
// whose write fails. It reports whether all queues are empty afterwards.
func (m *Manager) flush() bool {
	ok := true
	for _, q := range m.sinks {
		if len(q.pending) == 0 {
			continue
		}
		name := q.writer.Name()
		if err := q.writer.Write(q.pending); err != nil {
			ok = false
			m.metrics.SinkWriteErrors.WithLabelValues(name).Inc()
			m.log.WithFields(logrus.Fields{"sink": name, "rows": len(q.pending)}).WithError(err).
				Error("Failed to write feature rows, will retry next cycle")
			m.recordError(err)
		} else {
			m.metrics.RowsWritten.WithLabelValues(name).Add(float64(len(q.pending)))
			q.pending = nil
		}
		m.metrics.PendingRows.WithLabelValues(name).Set(float64(len(q.pending)))
	}

	m.mu.Lock()
	for _, q := range m.sinks {
		m.status.PendingRows[q.writer.Name()] = len(q.pending)
	}
	m.mu.Unlock()
	return ok
}

// trimPending drops the oldest rows of q beyond the retry backlog limit.
func (m *Manager) trimPending(q *sinkQueue) {
	excess := len(q.pending) - m.maxPending
	if excess <= 0 {
		return
	}
	name := q.writer.Name()
	q.pending = append([]model.FeatureRow(nil), q.pending[excess:]...)
	m.metrics.DroppedRows.WithLabelValues(name).Add(float64(excess))
	m.log.WithFields(logrus.Fields{"sink": name, "rows": excess, "limit": m.maxPending}).
		Error("Retry backlog full, dropping oldest feature rows")

	m.mu.Lock()
	m.status.DroppedRows[name] += uint64(excess)
	m.mu.Unlock()
}

func (m *Manager) hasPending() bool {
	for _, q := range m.sinks {
		if len(q.pending) > 0 {
			return true
		}
	}
	return false
}

func (m *Manager) transition(next State) {
	if next == m.state {
		return
	}
	m.log.WithFields(logrus.Fields{"from": m.state.String(), "to": next.String()}).Info("State transition")
	m.state = next
	m.metrics.SetState(next.String(), stateNames())

	m.mu.Lock()
	m.status.State = next.String()
	m.mu.Unlock()

	if m.observer != nil {
		m.observer(next)
	}
}

func (m *Manager) recordError(err error) {
	m.metrics.CycleErrors.Inc()
	m.mu.Lock()
	m.status.LastError = err.Error()
	now := time.Now()
	m.status.LastErrorAt = &now
	m.mu.Unlock()
}

// startWatcher wakes the poll loop when the capture file is created or
// written. The parent directory is watched so that a capture that does not
// exist yet is noticed too.
func (m *Manager) startWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	source := filepath.Clean(m.reader.Path())
	if err := watcher.Add(filepath.Dir(source)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != source {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					select {
					case m.wake <- struct{}{}:
					default:
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.log.WithError(err).Warn("Watcher error")
			}
		}
	}()
	return nil
}
