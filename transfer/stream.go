package transfer

import (
	"errors"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"

	"framedftp/ftperr"
)

// Options controls streaming encode and decode.
type Options struct {
	// Compress asks WriteFrame to deflate the payload.
	Compress bool

	// Level is the zlib level; zero means zlib.DefaultCompression.
	Level int

	// SpoolDir holds temporary files for compressed payloads. Empty means
	// os.TempDir().
	SpoolDir string

	// MaxLength rejects frames whose header announces more payload bytes,
	// and compressed frames that inflate to more than that.
	// Zero means no limit beyond the 32-bit length field.
	MaxLength uint32
}

func (o Options) level() int {
	if o.Level == 0 {
		return zlib.DefaultCompression
	}
	return o.Level
}

// spool is a temporary file removed on Close.
type spool struct {
	*os.File
}

func newSpool(dir string) (*spool, error) {
	f, err := os.CreateTemp(dir, "frame-*.spool")
	if err != nil {
		return nil, ftperr.Wrap(ftperr.KindIO, "spool", err)
	}
	return &spool{File: f}, nil
}

func (s *spool) Close() error {
	name := s.Name()
	err := s.File.Close()
	if rmErr := os.Remove(name); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

// WriteFrame writes one frame carrying the next size bytes of src to w.
//
// The header needs the length and CRC before the payload, so src is read
// twice: once to checksum (or to deflate into a spool file) and once to
// stream the payload. src must be positioned at the start of the payload.
func WriteFrame(w io.Writer, src io.ReadSeeker, size int64, opts Options) (Header, error) {
	if size < 0 || size > MaxPayload {
		return Header{}, ftperr.Newf(ftperr.KindIO, "encode", "file too large for one frame: %d bytes", size)
	}
	start, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return Header{}, ftperr.Wrap(ftperr.KindIO, "encode", err)
	}

	if opts.Compress {
		h, written, err := writeCompressed(w, src, size, opts)
		if err != nil || written {
			return h, err
		}
		if _, err := src.Seek(start, io.SeekStart); err != nil {
			return Header{}, ftperr.Wrap(ftperr.KindIO, "encode", err)
		}
	}

	crc := crc32.NewIEEE()
	n, err := io.Copy(crc, io.LimitReader(src, size))
	if err != nil {
		return Header{}, ftperr.Wrap(ftperr.KindIO, "encode", err)
	}
	if n != size {
		return Header{}, ftperr.Newf(ftperr.KindIO, "encode", "source shrank: read %d of %d bytes", n, size)
	}
	if _, err := src.Seek(start, io.SeekStart); err != nil {
		return Header{}, ftperr.Wrap(ftperr.KindIO, "encode", err)
	}

	h := Header{Version: Version, Length: uint32(size), CRC32: crc.Sum32()}
	hdr := h.Marshal()
	if _, err := w.Write(hdr[:]); err != nil {
		return Header{}, ftperr.FromIO("send header", err)
	}
	if _, err := io.CopyN(w, src, size); err != nil {
		if errors.Is(err, io.EOF) {
			return Header{}, ftperr.New(ftperr.KindIO, "send payload", "source changed during transfer")
		}
		return Header{}, ftperr.FromIO("send payload", err)
	}
	return h, nil
}

// writeCompressed deflates src into a spool file and sends it when the result
// is smaller than size. written is false when the caller should fall back to
// a raw frame.
func writeCompressed(w io.Writer, src io.Reader, size int64, opts Options) (Header, bool, error) {
	sp, err := newSpool(opts.SpoolDir)
	if err != nil {
		return Header{}, false, err
	}
	defer sp.Close()

	crc := crc32.NewIEEE()
	zw, err := zlib.NewWriterLevel(io.MultiWriter(sp, crc), opts.level())
	if err != nil {
		return Header{}, false, ftperr.Wrap(ftperr.KindIO, "deflate", err)
	}
	n, err := io.Copy(zw, io.LimitReader(src, size))
	if err != nil {
		return Header{}, false, ftperr.Wrap(ftperr.KindIO, "deflate", err)
	}
	if n != size {
		return Header{}, false, ftperr.Newf(ftperr.KindIO, "deflate", "source shrank: read %d of %d bytes", n, size)
	}
	if err := zw.Close(); err != nil {
		return Header{}, false, ftperr.Wrap(ftperr.KindIO, "deflate", err)
	}

	deflated, err := sp.Seek(0, io.SeekCurrent)
	if err != nil {
		return Header{}, false, ftperr.Wrap(ftperr.KindIO, "spool", err)
	}
	if deflated >= size {
		return Header{}, false, nil
	}
	if _, err := sp.Seek(0, io.SeekStart); err != nil {
		return Header{}, false, ftperr.Wrap(ftperr.KindIO, "spool", err)
	}

	h := Header{Version: Version, Flags: FlagCompressed, Length: uint32(deflated), CRC32: crc.Sum32()}
	hdr := h.Marshal()
	if _, err := w.Write(hdr[:]); err != nil {
		return Header{}, false, ftperr.FromIO("send header", err)
	}
	if _, err := io.CopyN(w, sp, deflated); err != nil {
		return Header{}, false, ftperr.FromIO("send payload", err)
	}
	return h, true, nil
}

// ReadFrame reads one frame from r and writes the decoded payload to dst,
// returning the header and the number of decoded bytes written.
//
// Raw payloads are streamed into dst while the CRC is computed, so dst sees
// the bytes before they are validated: callers must discard dst when an error
// is returned. Compressed payloads are spooled and only inflated into dst
// after the CRC matches.
func ReadFrame(r io.Reader, dst io.Writer, opts Options) (Header, int64, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, 0, err
	}
	if opts.MaxLength > 0 && h.Length > opts.MaxLength {
		return h, 0, ftperr.Newf(ftperr.KindFraming, "decode", "frame of %d bytes exceeds limit of %d", h.Length, opts.MaxLength)
	}

	crc := crc32.NewIEEE()
	if !h.Compressed() {
		n, err := io.CopyN(io.MultiWriter(dst, crc), r, int64(h.Length))
		if err != nil {
			return h, n, truncatedOrSink(err, n, int64(h.Length))
		}
		if got := crc.Sum32(); got != h.CRC32 {
			return h, n, ftperr.Newf(ftperr.KindIntegrity, "decode", "crc mismatch: header %08x, payload %08x", h.CRC32, got)
		}
		return h, n, nil
	}

	sp, err := newSpool(opts.SpoolDir)
	if err != nil {
		return h, 0, err
	}
	defer sp.Close()

	n, err := io.CopyN(io.MultiWriter(sp, crc), r, int64(h.Length))
	if err != nil {
		return h, 0, truncatedOrSink(err, n, int64(h.Length))
	}
	if got := crc.Sum32(); got != h.CRC32 {
		return h, 0, ftperr.Newf(ftperr.KindIntegrity, "decode", "crc mismatch: header %08x, payload %08x", h.CRC32, got)
	}
	if _, err := sp.Seek(0, io.SeekStart); err != nil {
		return h, 0, ftperr.Wrap(ftperr.KindIO, "spool", err)
	}

	zr, err := zlib.NewReader(sp)
	if err != nil {
		return h, 0, ftperr.Wrap(ftperr.KindIntegrity, "inflate", err)
	}
	defer zr.Close()

	var src io.Reader = zr
	if opts.MaxLength > 0 {
		src = io.LimitReader(zr, int64(opts.MaxLength)+1)
	}
	written, err := io.Copy(dst, src)
	if err != nil {
		var se *sinkError
		if errors.As(err, &se) {
			return h, written, ftperr.Wrap(ftperr.KindIO, "write", se.err)
		}
		return h, written, ftperr.Wrap(ftperr.KindIntegrity, "inflate", err)
	}
	if opts.MaxLength > 0 && written > int64(opts.MaxLength) {
		return h, written, ftperr.Newf(ftperr.KindFraming, "inflate", "decoded payload exceeds limit of %d", opts.MaxLength)
	}
	return h, written, nil
}

// truncatedOrSink tells a short read on the stream apart from a failing
// destination writer.
func truncatedOrSink(err error, got, want int64) error {
	var we *sinkError
	if errors.As(err, &we) {
		return ftperr.Wrap(ftperr.KindIO, "write", we.err)
	}
	return truncated(err, got, want)
}

// sinkError marks an error returned by a destination writer.
type sinkError struct{ err error }

func (e *sinkError) Error() string { return e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

// SinkWriter wraps w so that its write errors are reported as I/O failures of
// the destination rather than of the data channel.
func SinkWriter(w io.Writer) io.Writer {
	return sinkWriter{w}
}

type sinkWriter struct{ w io.Writer }

func (s sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		return n, &sinkError{err: err}
	}
	return n, nil
}
