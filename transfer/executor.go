package transfer

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"framedftp/fsroot"
	"framedftp/ftperr"
)

// Executor moves whole files between a root directory and a data channel,
// one frame per file.
//
// There is no cross-session locking: a Get racing a Put on the same file
// from another session may observe either version, and two concurrent Puts
// leave whichever rename lands last.
type Executor struct {
	Options Options
	Log     *logrus.Entry
}

// Result describes a completed transfer.
type Result struct {
	Path       string
	Bytes      int64
	WireBytes  int64
	Compressed bool
	Duration   time.Duration
}

// Source is a file opened for a Get, validated against the root.
type Source struct {
	Path string
	Size int64
	file *os.File
}

// Close releases the underlying file.
func (s *Source) Close() error {
	return s.file.Close()
}

// Target is a validated destination for a Put.
type Target struct {
	Path string
	host string
	root *fsroot.Root
	cwd  string
	name string
}

func (e *Executor) logger() *logrus.Entry {
	if e.Log != nil {
		return e.Log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// OpenSource resolves name under cwd and opens it for reading. Errors here
// are reported before any data channel is opened.
func (e *Executor) OpenSource(root *fsroot.Root, cwd, name string) (*Source, error) {
	virtual, host, _, err := root.ResolveFile(cwd, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(host)
	if err != nil {
		return nil, ftperr.FromFS("open", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ftperr.FromFS("stat", err)
	}
	return &Source{Path: virtual, Size: info.Size(), file: f}, nil
}

// Send encodes src as one frame onto w.
func (e *Executor) Send(w io.Writer, src *Source, compress bool) (Result, error) {
	start := time.Now()
	opts := e.Options
	opts.Compress = compress

	h, err := WriteFrame(w, src.file, src.Size, opts)
	if err != nil {
		e.logger().WithFields(logrus.Fields{
			"function": "Send",
			"path":     src.Path,
			"error":    err.Error(),
		}).Warn("[GET] transfer failed")
		return Result{}, err
	}

	res := Result{
		Path:       src.Path,
		Bytes:      src.Size,
		WireBytes:  HeaderSize + int64(h.Length),
		Compressed: h.Compressed(),
		Duration:   time.Since(start),
	}
	e.logger().WithFields(logrus.Fields{
		"function":   "Send",
		"path":       res.Path,
		"bytes":      res.Bytes,
		"wire_bytes": res.WireBytes,
		"compressed": res.Compressed,
		"duration":   res.Duration,
	}).Info("[GET] file sent")
	return res, nil
}

// Get opens name under cwd and sends it as one frame.
func (e *Executor) Get(w io.Writer, root *fsroot.Root, cwd, name string, compress bool) (Result, error) {
	src, err := e.OpenSource(root, cwd, name)
	if err != nil {
		return Result{}, err
	}
	defer src.Close()
	return e.Send(w, src, compress)
}

// PrepareTarget validates the destination of a Put without creating it.
func (e *Executor) PrepareTarget(root *fsroot.Root, cwd, name string) (*Target, error) {
	virtual, host, err := root.ResolveTarget(cwd, name)
	if err != nil {
		return nil, err
	}
	return &Target{Path: virtual, host: host, root: root, cwd: cwd, name: name}, nil
}

// Receive reads one frame from r into t. The payload lands in a temporary
// file next to the target and is renamed into place only after the frame has
// been fully read and its CRC verified.
func (e *Executor) Receive(r io.Reader, t *Target) (Result, error) {
	start := time.Now()
	dir := filepath.Dir(t.host)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(t.host)+".*.part")
	if err != nil {
		return Result{}, ftperr.FromFS("create", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	h, n, err := ReadFrame(r, SinkWriter(tmp), e.Options)
	if err != nil {
		e.logger().WithFields(logrus.Fields{
			"function": "Receive",
			"path":     t.Path,
			"error":    err.Error(),
		}).Warn("[PUT] frame rejected")
		return Result{}, err
	}
	if err := tmp.Close(); err != nil {
		return Result{}, ftperr.FromFS("close", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return Result{}, ftperr.FromFS("chmod", err)
	}

	// The tree may have changed while the frame was in flight.
	_, host, err := t.root.ResolveTarget(t.cwd, t.name)
	if err != nil {
		return Result{}, err
	}
	if host != t.host {
		return Result{}, ftperr.Newf(ftperr.KindPathTraversal, "commit", "%q moved during transfer", t.name)
	}
	if err := os.Rename(tmpName, host); err != nil {
		return Result{}, ftperr.FromFS("rename", err)
	}
	committed = true

	res := Result{
		Path:       t.Path,
		Bytes:      n,
		WireBytes:  HeaderSize + int64(h.Length),
		Compressed: h.Compressed(),
		Duration:   time.Since(start),
	}
	e.logger().WithFields(logrus.Fields{
		"function":   "Receive",
		"path":       res.Path,
		"bytes":      res.Bytes,
		"wire_bytes": res.WireBytes,
		"compressed": res.Compressed,
		"duration":   res.Duration,
	}).Info("[PUT] file stored")
	return res, nil
}

// Put validates name under cwd and stores one frame read from r there.
func (e *Executor) Put(r io.Reader, root *fsroot.Root, cwd, name string) (Result, error) {
	t, err := e.PrepareTarget(root, cwd, name)
	if err != nil {
		return Result{}, err
	}
	return e.Receive(r, t)
}
