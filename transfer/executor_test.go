package transfer

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framedftp/fsroot"
	"framedftp/ftperr"
)

func newExecutor(t *testing.T) (*Executor, *fsroot.Root) {
	t.Helper()
	root, err := fsroot.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(root.Dir(), "inbox"), 0755))

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)

	return &Executor{
		Options: Options{SpoolDir: t.TempDir()},
		Log:     logrus.NewEntry(logger),
	}, root
}

func TestExecutorPutThenGet(t *testing.T) {
	exec, root := newExecutor(t)

	for _, compress := range []bool{false, true} {
		payload := []byte(strings.Repeat("report line\n", 300))
		frame, err := Encode(payload, compress)
		require.NoError(t, err)

		res, err := exec.Put(bytes.NewReader(frame), root, "/inbox", "report.txt")
		require.NoError(t, err)
		assert.Equal(t, "/inbox/report.txt", res.Path)
		assert.Equal(t, int64(len(payload)), res.Bytes)
		assert.Equal(t, compress, res.Compressed)

		stored, err := os.ReadFile(filepath.Join(root.Dir(), "inbox", "report.txt"))
		require.NoError(t, err)
		assert.Equal(t, payload, stored)

		var wire bytes.Buffer
		gres, err := exec.Get(&wire, root, "/", "inbox/report.txt", compress)
		require.NoError(t, err)
		assert.Equal(t, int64(len(payload)), gres.Bytes)
		assert.Equal(t, int64(wire.Len()), gres.WireBytes)

		got, err := Decode(&wire)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	}
}

func TestExecutorPutCorruptFrameLeavesNothing(t *testing.T) {
	exec, root := newExecutor(t)

	frame, err := Encode([]byte("important data"), false)
	require.NoError(t, err)
	frame[HeaderSize] ^= 0x01

	_, err = exec.Put(bytes.NewReader(frame), root, "/inbox", "broken.txt")
	assert.True(t, ftperr.Is(err, ftperr.KindIntegrity))

	entries, err := os.ReadDir(filepath.Join(root.Dir(), "inbox"))
	require.NoError(t, err)
	assert.Empty(t, entries, "no final file and no leftover temp file")
}

func TestExecutorPutKeepsOldFileOnFailure(t *testing.T) {
	exec, root := newExecutor(t)
	target := filepath.Join(root.Dir(), "inbox", "keep.txt")
	require.NoError(t, os.WriteFile(target, []byte("original"), 0644))

	frame, err := Encode([]byte("replacement"), false)
	require.NoError(t, err)

	_, err = exec.Put(bytes.NewReader(frame[:len(frame)-3]), root, "/inbox", "keep.txt")
	assert.True(t, ftperr.Is(err, ftperr.KindFraming))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))
}

func TestExecutorRejectsTraversal(t *testing.T) {
	exec, root := newExecutor(t)

	_, err := exec.PrepareTarget(root, "/inbox", "../../escape.txt")
	assert.True(t, ftperr.Is(err, ftperr.KindPathTraversal))

	var wire bytes.Buffer
	_, err = exec.Get(&wire, root, "/", "../../etc/passwd", false)
	assert.True(t, ftperr.Is(err, ftperr.KindPathTraversal))
	assert.Zero(t, wire.Len())
}

func TestExecutorGetMissing(t *testing.T) {
	exec, root := newExecutor(t)

	_, err := exec.OpenSource(root, "/", "missing.txt")
	assert.True(t, ftperr.Is(err, ftperr.KindNotFound))

	_, err = exec.OpenSource(root, "/", "inbox")
	assert.True(t, ftperr.Is(err, ftperr.KindNotFound), "directories cannot be fetched")
}

func TestExecutorPutIntoDirectoryName(t *testing.T) {
	exec, root := newExecutor(t)

	_, err := exec.PrepareTarget(root, "/", "inbox")
	assert.True(t, ftperr.Is(err, ftperr.KindIO))
}
