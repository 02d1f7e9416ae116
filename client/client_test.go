package client

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/nettest"

	"framedftp/auth"
	"framedftp/datachannel"
	"framedftp/fsroot"
	"framedftp/ftperr"
	"framedftp/protocol"
	"framedftp/server"
	"framedftp/transfer"
)

func quietLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// startServer runs a server on a loopback port and returns its address and
// root directory.
func startServer(t *testing.T) (string, string) {
	t.Helper()
	root, err := fsroot.New(t.TempDir())
	require.NoError(t, err)

	um := auth.NewUserManager()
	um.Cost = bcrypt.MinCost
	_, err = um.AddUser("alice", "secret", "")
	require.NoError(t, err)

	srv, err := server.NewFTPServer(server.Options{
		Addr: "127.0.0.1:0",
		Session: protocol.Config{
			Root: root,
			Auth: auth.NewAuthService(um),
			Data: datachannel.Config{
				ConnectTimeout: time.Second,
				AcceptTimeout:  2 * time.Second,
				IOTimeout:      2 * time.Second,
			},
			Transfer: transfer.Options{SpoolDir: t.TempDir()},
		},
		Log: quietLog(),
	})
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	go srv.Serve(context.Background())
	t.Cleanup(func() { srv.Stop() })
	return srv.Addr().String(), root.Dir()
}

func dialClient(t *testing.T, addr string, opts Options) *Client {
	t.Helper()
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	opts.Log = quietLog()
	c, err := Dial(context.Background(), addr, opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Login("alice", "secret"))
	return c
}

func TestDialReadsGreeting(t *testing.T) {
	addr, _ := startServer(t)
	c := dialClient(t, addr, Options{})
	assert.Equal(t, protocol.DefaultBanner, c.Greeting())
	assert.NoError(t, c.Noop())
	assert.NoError(t, c.Quit())
}

func TestLoginFailureIsTyped(t *testing.T) {
	addr, _ := startServer(t)
	c, err := Dial(context.Background(), addr, Options{Timeout: time.Second, Log: quietLog()})
	require.NoError(t, err)
	defer c.Close()

	err = c.Login("alice", "wrong")
	require.Error(t, err)
	assert.True(t, ftperr.Is(err, ftperr.KindAuthentication))

	// The session survives and a correct login still works.
	assert.NoError(t, c.Login("alice", "secret"))
}

func TestNavigation(t *testing.T) {
	addr, dir := startServer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs", "old"), 0755))
	c := dialClient(t, addr, Options{})

	cwd, err := c.Pwd()
	require.NoError(t, err)
	assert.Equal(t, "/", cwd)

	cwd, err = c.Cwd("docs/old")
	require.NoError(t, err)
	assert.Equal(t, "/docs/old", cwd)

	cwd, err = c.Cdup()
	require.NoError(t, err)
	assert.Equal(t, "/docs", cwd)

	_, err = c.Cwd("../../..")
	require.Error(t, err)
	assert.True(t, ftperr.Is(err, ftperr.KindPathTraversal))

	cwd, err = c.Pwd()
	require.NoError(t, err)
	assert.Equal(t, "/docs", cwd)
}

func TestFileManagement(t *testing.T) {
	addr, dir := startServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "my notes.txt"), []byte("hello"), 0644))
	c := dialClient(t, addr, Options{})

	made, err := c.Mkdir("reports")
	require.NoError(t, err)
	assert.Equal(t, "/reports", made)

	entries, err := c.List("")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	byName := map[string]Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.True(t, byName["reports"].IsDir)
	assert.Equal(t, int64(5), byName["my notes.txt"].Size)

	size, err := c.Size("my notes.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	require.NoError(t, c.Delete("my notes.txt"))
	_, err = c.Size("my notes.txt")
	assert.True(t, ftperr.Is(err, ftperr.KindNotFound))
}

func TestPassiveRoundTrip(t *testing.T) {
	addr, dir := startServer(t)
	c := dialClient(t, addr, Options{})

	payload := bytes.Repeat([]byte("framed transfer "), 4096)
	stats, err := c.Store(context.Background(), "upload.bin", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), stats.Bytes)
	assert.False(t, stats.Compressed)

	stored, err := os.ReadFile(filepath.Join(dir, "upload.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	var got bytes.Buffer
	stats, err = c.Retrieve(context.Background(), "upload.bin", &got)
	require.NoError(t, err)
	assert.Equal(t, payload, got.Bytes())
	assert.Equal(t, int64(len(payload)), stats.Bytes)
	assert.Contains(t, stats.Reply, "Transfer complete")
}

func TestActiveRoundTrip(t *testing.T) {
	addr, dir := startServer(t)
	c := dialClient(t, addr, Options{Active: true})

	payload := []byte("active mode payload")
	_, err := c.Store(context.Background(), "active.txt", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)

	stored, err := os.ReadFile(filepath.Join(dir, "active.txt"))
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	var got bytes.Buffer
	_, err = c.Retrieve(context.Background(), "active.txt", &got)
	require.NoError(t, err)
	assert.Equal(t, payload, got.Bytes())

	// Session is still usable after both transfers.
	assert.NoError(t, c.Noop())
}

func TestCompressedRoundTrip(t *testing.T) {
	addr, _ := startServer(t)
	c := dialClient(t, addr, Options{})
	require.NoError(t, c.SetCompression(true))
	assert.True(t, c.Compression())

	payload := []byte(strings.Repeat("compressible line\n", 2000))
	stats, err := c.Store(context.Background(), "text.log", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.True(t, stats.Compressed)

	var got bytes.Buffer
	stats, err = c.Retrieve(context.Background(), "text.log", &got)
	require.NoError(t, err)
	assert.True(t, stats.Compressed)
	assert.Equal(t, payload, got.Bytes())
}

func TestRetrieveMissingFile(t *testing.T) {
	addr, _ := startServer(t)
	for _, active := range []bool{false, true} {
		c := dialClient(t, addr, Options{Active: active})
		var got bytes.Buffer
		_, err := c.Retrieve(context.Background(), "nope.txt", &got)
		require.Error(t, err)
		assert.True(t, ftperr.Is(err, ftperr.KindNotFound))
		assert.Zero(t, got.Len())
		assert.NoError(t, c.Noop())
	}
}

func TestRetrieveFileAndStoreFile(t *testing.T) {
	addr, _ := startServer(t)
	c := dialClient(t, addr, Options{})
	local := t.TempDir()

	src := filepath.Join(local, "report.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b,c\n1,2,3\n"), 0644))
	_, err := c.StoreFile(context.Background(), src, "")
	require.NoError(t, err)

	dst := filepath.Join(local, "copy.csv")
	_, err = c.RetrieveFile(context.Background(), "report.csv", dst)
	require.NoError(t, err)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "a,b,c\n1,2,3\n", string(data))

	// A failed download leaves nothing behind.
	missing := filepath.Join(local, "missing.csv")
	_, err = c.RetrieveFile(context.Background(), "missing.csv", missing)
	require.Error(t, err)
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr))
	leftovers, _ := filepath.Glob(filepath.Join(local, ".missing.csv.*"))
	assert.Empty(t, leftovers)
}

func TestStoreTraversalRejected(t *testing.T) {
	addr, _ := startServer(t)
	c := dialClient(t, addr, Options{})

	_, err := c.Store(context.Background(), "../escape.txt", strings.NewReader("x"), 1)
	require.Error(t, err)
	assert.True(t, ftperr.Is(err, ftperr.KindPathTraversal))
}

func TestImportFromUnreachableServer(t *testing.T) {
	addr, _ := startServer(t)
	c := dialClient(t, addr, Options{Timeout: 500 * time.Millisecond})

	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	dead := ln.Addr().String()
	ln.Close()

	_, err = c.ImportFromFTP(context.Background(), FTPSource{Addr: dead, Path: "/pub/file.txt"}, "")
	require.Error(t, err)
	assert.True(t, ftperr.Is(err, ftperr.KindIO))
	assert.NoError(t, c.Noop())
}

func TestParseEntry(t *testing.T) {
	entry, err := ParseEntry("-rw-r--r--   1 ftp      ftp          1234 Mar 04 10:22 quarterly report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "quarterly report.pdf", entry.Name)
	assert.Equal(t, int64(1234), entry.Size)
	assert.False(t, entry.IsDir)
	assert.Equal(t, "Mar 04 10:22", entry.ModTime)

	entry, err = ParseEntry("drwxr-xr-x   1 ftp      ftp          4096 Jan 01 00:00 src")
	require.NoError(t, err)
	assert.True(t, entry.IsDir)

	_, err = ParseEntry("garbage")
	assert.Error(t, err)
	_, err = ParseEntry("-rw-r--r-- 1 ftp ftp big Mar 04 10:22 f")
	assert.Error(t, err)
}

func TestStatsString(t *testing.T) {
	s := Stats{Bytes: 2048, Duration: time.Second, Compressed: true}
	assert.Equal(t, 2048.0, s.Rate())
	assert.Equal(t, "2048 bytes in 1s (compressed, 2.0 KB/s)", s.String())
	assert.Zero(t, Stats{}.Rate())
}
