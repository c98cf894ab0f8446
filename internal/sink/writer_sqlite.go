package sink

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"Go2FlowFeatures/internal/config"
	"Go2FlowFeatures/internal/factory"
	"Go2FlowFeatures/internal/model"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

func init() {
	factory.RegisterSink("sqlite", func(def config.SinkDef, ctx factory.SinkContext) (model.Writer, error) {
		return NewSQLiteWriter(def.SQLite, ctx.Logger)
	})
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// sqliteTypes maps each feature column to its SQLite storage class.
var sqliteTypes = map[string]string{
	"timestamp":               "REAL NOT NULL",
	"source_address":          "TEXT",
	"destination_address":     "TEXT",
	"protocol":                "INTEGER",
	"header_length":           "INTEGER",
	"size":                    "INTEGER",
	"control_flags":           "TEXT",
	"flow_duration":           "REAL NOT NULL",
	"rate":                    "REAL",
	"source_rate":             "REAL",
	"destination_rate":        "REAL",
	"inter_arrival_time":      "REAL NOT NULL",
	"sequence_number_in_flow": "INTEGER NOT NULL",
	"magnitude":               "REAL",
	"radius":                  "REAL",
	"rolling_covariance":      "REAL",
	"rolling_variance":        "REAL",
	"weight":                  "REAL",
}

// SQLiteWriter stores feature rows in a SQLite table with one column per
// feature. Overwrite mode clears the table on the first write of the run.
type SQLiteWriter struct {
	db      *sql.DB
	path    string
	table   string
	mode    string
	insert  string
	started bool
	log     logrus.FieldLogger
}

// NewSQLiteWriter opens the database and ensures the table exists.
func NewSQLiteWriter(cfg config.SQLiteConfig, logger logrus.FieldLogger) (*SQLiteWriter, error) {
	table := cfg.Table
	if table == "" {
		table = "packet_features"
	}
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("sqlite sink: invalid table name '%s'", table)
	}
	mode := config.ModeOrDefault(cfg.Mode)
	if mode != config.WriteModeOverwrite && mode != config.WriteModeAppend {
		return nil, fmt.Errorf("sqlite sink: unknown write mode '%s'", mode)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite sink: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("%w: creating directory for %s: %v", model.ErrSinkWrite, cfg.Path, err)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	defs := make([]string, len(model.Columns))
	for i, c := range model.Columns {
		defs[i] = c + " " + sqliteTypes[c]
	}
	schema := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    id INTEGER PRIMARY KEY AUTOINCREMENT,\n    %s\n);",
		table, strings.Join(defs, ",\n    "))
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(model.Columns)), ", ")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(model.Columns, ", "), placeholders)

	logger.WithFields(logrus.Fields{"path": cfg.Path, "table": table}).Info("SQLite feature sink ready")
	return &SQLiteWriter{db: db, path: cfg.Path, table: table, mode: mode, insert: insert, log: logger}, nil
}

// Name returns the writer's identity for logs.
func (w *SQLiteWriter) Name() string {
	return "sqlite:" + w.path + "#" + w.table
}

// Write inserts rows in a single transaction.
func (w *SQLiteWriter) Write(rows []model.FeatureRow) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSinkWrite, err)
	}

	if !w.started && w.mode == config.WriteModeOverwrite {
		if _, err := tx.Exec("DELETE FROM " + w.table); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: %v", model.ErrSinkWrite, err)
		}
	}

	stmt, err := tx.Prepare(w.insert)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: %v", model.ErrSinkWrite, err)
	}
	defer stmt.Close()

	for i := range rows {
		if _, err := stmt.Exec(rows[i].Values()...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: %v", model.ErrSinkWrite, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrSinkWrite, err)
	}
	w.started = true
	return nil
}

// Close closes the database.
func (w *SQLiteWriter) Close() error {
	return w.db.Close()
}
