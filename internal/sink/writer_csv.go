package sink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"Go2FlowFeatures/internal/config"
	"Go2FlowFeatures/internal/factory"
	"Go2FlowFeatures/internal/model"

	"github.com/sirupsen/logrus"
)

func init() {
	factory.RegisterSink("csv", func(def config.SinkDef, ctx factory.SinkContext) (model.Writer, error) {
		return NewCSVWriter(def.CSV.Path, config.ModeOrDefault(def.CSV.Mode), ctx.Logger)
	})
}

// CSVWriter persists the feature table as delimited text with one header row.
//
// In overwrite mode the file is truncated on the first write of the run and
// appended to afterwards, so it always holds the cumulative rows of the run.
// In append mode existing rows are kept and the existing header must match
// the schema.
type CSVWriter struct {
	path    string
	mode    string
	started bool
	log     logrus.FieldLogger
}

// NewCSVWriter creates a CSV writer. Nothing is touched on disk until the
// first Write.
func NewCSVWriter(path, mode string, logger logrus.FieldLogger) (*CSVWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("csv sink: path is required")
	}
	if mode != config.WriteModeOverwrite && mode != config.WriteModeAppend {
		return nil, fmt.Errorf("csv sink: unknown write mode '%s'", mode)
	}
	return &CSVWriter{path: path, mode: mode, log: logger}, nil
}

// Name returns the writer's identity for logs.
func (w *CSVWriter) Name() string {
	return "csv:" + w.path
}

// Path returns the table location.
func (w *CSVWriter) Path() string {
	return w.path
}

// Write appends rows to the table, preparing the file on the first call.
// A failed write leaves the file as it was before the call.
func (w *CSVWriter) Write(rows []model.FeatureRow) error {
	if !w.started {
		if err := w.prepare(); err != nil {
			return fmt.Errorf("%w: %s: %v", model.ErrSinkWrite, w.path, err)
		}
		w.started = true
	}
	if len(rows) == 0 {
		return nil
	}

	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSinkWrite, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrSinkWrite, err)
	}
	// Roll back to this size if the batch cannot be written completely,
	// otherwise the retry would duplicate the rows that made it.
	size := info.Size()

	cw := csv.NewWriter(f)
	for i := range rows {
		if err := cw.Write(rows[i].Strings()); err != nil {
			break
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		if terr := f.Truncate(size); terr != nil {
			w.log.WithError(terr).WithField("path", w.path).Error("Failed to roll back partial CSV write")
		}
		return fmt.Errorf("%w: %s: %v", model.ErrSinkWrite, w.path, err)
	}
	return nil
}

// Close is a no-op; the file is opened per write.
func (w *CSVWriter) Close() error {
	return nil
}

func (w *CSVWriter) prepare() error {
	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	if w.mode == config.WriteModeAppend {
		header, err := readHeader(w.path)
		switch {
		case err == nil:
			if !sameColumns(header) {
				return fmt.Errorf("existing header [%s] does not match the feature schema", strings.Join(header, ","))
			}
			return nil
		case errors.Is(err, os.ErrNotExist), errors.Is(err, io.EOF):
			// Missing or empty table; start a new one.
		default:
			return err
		}
	}

	f, err := os.Create(w.path)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	if err := cw.Write(model.Columns); err != nil {
		f.Close()
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	return r.Read()
}

func sameColumns(header []string) bool {
	if len(header) != len(model.Columns) {
		return false
	}
	for i, c := range model.Columns {
		if header[i] != c {
			return false
		}
	}
	return true
}
