package sink

import (
	"fmt"
	"time"

	"Go2FlowFeatures/internal/config"
	"Go2FlowFeatures/internal/factory"
	"Go2FlowFeatures/internal/model"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func init() {
	factory.RegisterSink("nats", func(def config.SinkDef, ctx factory.SinkContext) (model.Writer, error) {
		return NewNATSWriter(def.NATS, ctx.RunID, ctx.Logger)
	})
}

// NATSWriter publishes every batch of rows as one protobuf Struct message.
// The message carries run_id, published_at and rows, each row keyed by
// column name with absent values as null.
type NATSWriter struct {
	nc      *nats.Conn
	subject string
	runID   string
	log     logrus.FieldLogger
}

// NewNATSWriter connects to the NATS server.
func NewNATSWriter(cfg config.NATSConfig, runID string, logger logrus.FieldLogger) (*NATSWriter, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	if cfg.Subject == "" {
		return nil, fmt.Errorf("nats sink: subject is required")
	}
	nc, err := nats.Connect(url, nats.Name("ns-extractor"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{"url": url, "subject": cfg.Subject}).Info("Connected to NATS server")
	return &NATSWriter{nc: nc, subject: cfg.Subject, runID: runID, log: logger}, nil
}

// Name returns the writer's identity for logs.
func (w *NATSWriter) Name() string {
	return "nats:" + w.subject
}

// Write publishes rows and waits for the server to acknowledge the flush.
func (w *NATSWriter) Write(rows []model.FeatureRow) error {
	if len(rows) == 0 {
		return nil
	}
	data, err := EncodeBatch(w.runID, time.Now(), rows)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSinkWrite, err)
	}
	if err := w.nc.Publish(w.subject, data); err != nil {
		return fmt.Errorf("%w: %v", model.ErrSinkWrite, err)
	}
	if err := w.nc.FlushTimeout(10 * time.Second); err != nil {
		return fmt.Errorf("%w: %v", model.ErrSinkWrite, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (w *NATSWriter) Close() error {
	if w.nc == nil {
		return nil
	}
	err := w.nc.Drain()
	w.log.Info("NATS connection drained and closed")
	return err
}

// EncodeBatch serializes rows to a protobuf Struct.
func EncodeBatch(runID string, publishedAt time.Time, rows []model.FeatureRow) ([]byte, error) {
	list := make([]interface{}, len(rows))
	for i := range rows {
		values := rows[i].Values()
		fields := make(map[string]interface{}, len(values))
		for j, col := range model.Columns {
			fields[col] = values[j]
		}
		list[i] = fields
	}

	msg, err := structpb.NewStruct(map[string]interface{}{
		"run_id":       runID,
		"published_at": publishedAt.UTC().Format(time.RFC3339Nano),
		"rows":         list,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}
	return proto.Marshal(msg)
}
