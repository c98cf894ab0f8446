package sink

import (
	"context"
	"fmt"
	"time"

	"Go2FlowFeatures/internal/config"
	"Go2FlowFeatures/internal/factory"
	"Go2FlowFeatures/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sirupsen/logrus"
)

func init() {
	factory.RegisterSink("clickhouse", func(def config.SinkDef, ctx factory.SinkContext) (model.Writer, error) {
		return NewClickHouseWriter(def.ClickHouse, ctx.RunID, ctx.Logger)
	})
}

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    RunID                String,
    InsertedAt           DateTime,
    Timestamp            Float64,
    SourceAddress        Nullable(String),
    DestinationAddress   Nullable(String),
    Protocol             Nullable(UInt8),
    HeaderLength         Nullable(Int64),
    Size                 Nullable(Int64),
    ControlFlags         Nullable(String),
    FlowDuration         Float64,
    Rate                 Nullable(Float64),
    SourceRate           Nullable(Float64),
    DestinationRate      Nullable(Float64),
    InterArrivalTime     Float64,
    SequenceNumberInFlow UInt64,
    Magnitude            Nullable(Float64),
    Radius               Nullable(Float64),
    RollingCovariance    Nullable(Float64),
    RollingVariance      Nullable(Float64),
    Weight               Nullable(Float64)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(InsertedAt)
ORDER BY (RunID, Timestamp);
`

// ClickHouseWriter implements the model.Writer interface for ClickHouse.
// Rows of every run share one table and are told apart by RunID.
type ClickHouseWriter struct {
	conn  driver.Conn
	table string
	runID string
	log   logrus.FieldLogger
}

// NewClickHouseWriter creates a new ClickHouse writer.
func NewClickHouseWriter(cfg config.ClickHouseConfig, runID string, logger logrus.FieldLogger) (*ClickHouseWriter, error) {
	table := cfg.Table
	if table == "" {
		table = "packet_features"
	}
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("clickhouse sink: invalid table name '%s'", table)
	}

	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), fmt.Sprintf(createTableStatement, table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger.WithField("table", table).Info("Successfully connected to ClickHouse and ensured table exists")

	return &ClickHouseWriter{conn: conn, table: table, runID: runID, log: logger}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Name returns the writer's identity for logs.
func (w *ClickHouseWriter) Name() string {
	return "clickhouse:" + w.table
}

// Write sends rows as one batch.
func (w *ClickHouseWriter) Write(rows []model.FeatureRow) error {
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare batch: %v", model.ErrSinkWrite, err)
	}

	now := time.Now()
	for i := range rows {
		r := &rows[i]
		err = batch.Append(
			w.runID,
			now,
			r.Timestamp,
			r.SourceAddress,
			r.DestinationAddress,
			r.Protocol,
			int64Ptr(r.HeaderLength),
			int64Ptr(r.Size),
			r.ControlFlags,
			r.FlowDuration,
			r.Rate,
			r.SourceRate,
			r.DestinationRate,
			r.InterArrivalTime,
			r.SequenceNumberInFlow,
			r.Magnitude,
			r.Radius,
			r.RollingCovariance,
			r.RollingVariance,
			r.Weight,
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("%w: failed to append row to batch: %v", model.ErrSinkWrite, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("%w: failed to send batch: %v", model.ErrSinkWrite, err)
	}

	w.log.WithField("rows", len(rows)).Debug("Wrote feature rows to ClickHouse")
	return nil
}

// Close closes the connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}

func int64Ptr(p *int) *int64 {
	if p == nil {
		return nil
	}
	v := int64(*p)
	return &v
}
