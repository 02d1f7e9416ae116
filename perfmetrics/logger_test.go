package perfmetrics

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerAppendsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "transfers.csv")
	logger, err := NewLogger(path)
	require.NoError(t, err)

	ts := time.Date(2026, 3, 4, 10, 22, 0, 0, time.UTC)
	require.NoError(t, logger.Log(Record{
		Time:      ts,
		Server:    "127.0.0.1:2121",
		Direction: "put",
		FileName:  "report, final.txt",
		Bytes:     2 << 20,
		Duration:  2 * time.Second,
	}))
	require.NoError(t, logger.Log(Record{
		Time:       ts,
		Server:     "127.0.0.1:2121",
		Direction:  "get",
		FileName:   "report.txt",
		Bytes:      1 << 20,
		Compressed: true,
		Active:     true,
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), CsvHeader))

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"2026-03-04T10:22:00Z", "127.0.0.1:2121", "put", "report, final.txt", "2.00", "false", "passive", "1.00", "2.00"}, rows[1])
	assert.Equal(t, []string{"2026-03-04T10:22:00Z", "127.0.0.1:2121", "get", "report.txt", "1.00", "true", "active", "0.00", "0.00"}, rows[2])
}

func TestThroughput(t *testing.T) {
	assert.Equal(t, 0.0, Record{Bytes: 100}.ThroughputMBps())
	assert.Equal(t, 4.0, Record{Bytes: 8 << 20, Duration: 2 * time.Second}.ThroughputMBps())
}
