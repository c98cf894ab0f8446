package sink

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"Go2FlowFeatures/internal/config"
	"Go2FlowFeatures/internal/model"

	"github.com/sirupsen/logrus/hooks/test"
)

func countRows(t *testing.T, path, table string) int {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	return n
}

func TestSQLiteWriter_Modes(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := filepath.Join(tempDir(t), "db", "features.db")

	write := func(mode string, rows []model.FeatureRow, batches int) {
		w, err := NewSQLiteWriter(config.SQLiteConfig{Path: path, Table: "features", Mode: mode}, logger)
		if err != nil {
			t.Fatalf("NewSQLiteWriter failed: %v", err)
		}
		defer w.Close()
		for i := 0; i < batches; i++ {
			if err := w.Write(rows); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
		}
	}

	write(config.WriteModeOverwrite, sampleRows(3, 0), 2)
	if n := countRows(t, path, "features"); n != 6 {
		t.Errorf("Overwrite run should hold the cumulative rows, got %d", n)
	}

	write(config.WriteModeOverwrite, sampleRows(2, 0), 1)
	if n := countRows(t, path, "features"); n != 2 {
		t.Errorf("A new overwrite run should clear the table, got %d", n)
	}

	write(config.WriteModeAppend, sampleRows(2, 0), 1)
	if n := countRows(t, path, "features"); n != 4 {
		t.Errorf("Append should keep existing rows, got %d", n)
	}
}

func TestSQLiteWriter_StoresNulls(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := filepath.Join(tempDir(t), "features.db")
	w, err := NewSQLiteWriter(config.SQLiteConfig{Path: path}, logger)
	if err != nil {
		t.Fatalf("NewSQLiteWriter failed: %v", err)
	}
	defer w.Close()

	if err := w.Write([]model.FeatureRow{{Timestamp: 1.5, SequenceNumberInFlow: 1}}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var src sql.NullString
	var rate sql.NullFloat64
	var seq int64
	err = w.db.QueryRow("SELECT source_address, rate, sequence_number_in_flow FROM packet_features").Scan(&src, &rate, &seq)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if src.Valid || rate.Valid {
		t.Errorf("Absent values should be stored as NULL, got %v %v", src, rate)
	}
	if seq != 1 {
		t.Errorf("Sequence should be 1, got %d", seq)
	}
}

func TestNewSQLiteWriter_RejectsBadTableName(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewSQLiteWriter(config.SQLiteConfig{Path: filepath.Join(tempDir(t), "x.db"), Table: "x; DROP TABLE y"}, logger)
	if err == nil {
		t.Errorf("Expected an error for an invalid table name")
	}
}

func TestNewSQLiteWriter_ReportsUnusableDirectory(t *testing.T) {
	logger, _ := test.NewNullLogger()
	blocker := filepath.Join(tempDir(t), "blocker")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	_, err := NewSQLiteWriter(config.SQLiteConfig{Path: filepath.Join(blocker, "db", "features.db")}, logger)
	if !errors.Is(err, model.ErrSinkWrite) {
		t.Fatalf("Expected ErrSinkWrite when the parent cannot be created, got %v", err)
	}
}
