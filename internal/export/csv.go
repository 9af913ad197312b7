// Package export writes readings to daily CSV files.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/greenstem/go-egauge/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CSVWriter appends readings to one file per device per day. The header row
// is written when a file is created; register columns are sorted by name so
// every row in a file lines up with the header.
type CSVWriter struct {
	directory string
	logger    zerolog.Logger

	// Current open file
	file    *os.File
	writer  *csv.Writer
	path    string
	columns []string
}

// NewCSVWriter creates a writer rooted at the given directory. The directory
// is created if missing.
func NewCSVWriter(directory string) (*CSVWriter, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	return &CSVWriter{
		directory: directory,
		logger:    log.With().Str("component", "csv").Logger(),
	}, nil
}

// Write appends a single reading, rolling over to a new file at day
// boundaries.
func (w *CSVWriter) Write(reading domain.Reading) error {
	path := w.filePath(reading)
	if path != w.path {
		if err := w.rotate(path, reading); err != nil {
			return err
		}
	}

	row := make([]string, 0, len(w.columns)+1)
	row = append(row, reading.Timestamp.UTC().Format(time.RFC3339))
	for _, name := range w.columns {
		row = append(row, strconv.FormatFloat(reading.Values[name], 'f', -1, 64))
	}

	if err := w.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write CSV row: %w", err)
	}
	w.writer.Flush()
	return w.writer.Error()
}

// rotate closes the current file and opens the one for the reading's day.
func (w *CSVWriter) rotate(path string, reading domain.Reading) error {
	if err := w.Close(); err != nil {
		return err
	}

	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}

	w.file = file
	w.writer = csv.NewWriter(file)
	w.path = path
	w.columns = reading.RegisterNames()

	if isNew {
		header := append([]string{"timestamp"}, w.columns...)
		if err := w.writer.Write(header); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
		w.writer.Flush()
		w.logger.Info().Str("path", path).Msg("Started new CSV file")
	}

	return w.writer.Error()
}

// filePath returns the daily file for a reading.
func (w *CSVWriter) filePath(reading domain.Reading) string {
	name := fmt.Sprintf("%s-%s.csv", reading.DeviceID, reading.Timestamp.UTC().Format("2006-01-02"))
	return filepath.Join(w.directory, name)
}

// Close flushes and closes the current file, if any.
func (w *CSVWriter) Close() error {
	if w.file == nil {
		return nil
	}
	w.writer.Flush()
	err := w.writer.Error()
	if closeErr := w.file.Close(); err == nil {
		err = closeErr
	}
	w.file = nil
	w.writer = nil
	w.path = ""
	return err
}

// NoopWriter discards readings. Used when CSV export is disabled.
type NoopWriter struct{}

// NewNoopWriter creates a writer that discards readings.
func NewNoopWriter() *NoopWriter {
	return &NoopWriter{}
}

// Write discards the reading.
func (w *NoopWriter) Write(_ domain.Reading) error {
	return nil
}

// Close is a no-op.
func (w *NoopWriter) Close() error {
	return nil
}
