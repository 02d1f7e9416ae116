// Package perfmetrics appends one CSV row per completed transfer.
package perfmetrics

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// CsvHeader defines the CSV header for performance logging
const CsvHeader = "Timestamp,Server,Direction,FileName,FileSizeMB,Compression,Mode,ThroughputMBps,TimeSec\n"

// Record is one transfer.
type Record struct {
	Time       time.Time
	Server     string
	Direction  string // "get", "put" or "import"
	FileName   string
	Bytes      int64
	Compressed bool
	Active     bool
	Duration   time.Duration
}

// ThroughputMBps returns the transfer rate in MiB per second.
func (r Record) ThroughputMBps() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Bytes) / (1 << 20) / r.Duration.Seconds()
}

func (r Record) fields() []string {
	mode := "passive"
	if r.Active {
		mode = "active"
	}
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return []string{
		ts.Format(time.RFC3339),
		r.Server,
		r.Direction,
		r.FileName,
		strconv.FormatFloat(float64(r.Bytes)/(1<<20), 'f', 2, 64),
		strconv.FormatBool(r.Compressed),
		mode,
		strconv.FormatFloat(r.ThroughputMBps(), 'f', 2, 64),
		strconv.FormatFloat(r.Duration.Seconds(), 'f', 2, 64),
	}
}

// Logger appends records to a CSV file, writing the header when the file is
// new. It is safe for concurrent use.
type Logger struct {
	path string
	mu   sync.Mutex
}

// NewLogger creates the parent directory of path if needed.
func NewLogger(path string) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &Logger{path: path}, nil
}

// Path returns the CSV file path.
func (l *Logger) Path() string {
	return l.path
}

// Log appends one record.
func (l *Logger) Log(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", l.path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		if _, err := file.WriteString(CsvHeader); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(r.fields()); err != nil {
		return fmt.Errorf("failed to write CSV record: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	return file.Close()
}
