// Package transfer implements the data-channel frame codec and the executor
// that moves files between the filesystem and a data channel.
//
// A frame is a fixed 12-byte header followed by the payload:
//
//	offset 0:  magic      2 bytes  'F' 'X'
//	offset 2:  version    1 byte
//	offset 3:  flags      1 byte   (bit0 = compressed)
//	offset 4:  length     4 bytes  big-endian payload byte count
//	offset 8:  crc32      4 bytes  big-endian IEEE CRC of the payload as sent
//	offset 12: payload    length bytes
//
// One frame carries one whole file.
package transfer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"

	"framedftp/ftperr"
)

// Magic identifies a frame on the wire.
var Magic = [2]byte{'F', 'X'}

const (
	// Version is the only frame version this codec speaks.
	Version byte = 1

	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 12

	// FlagCompressed marks a zlib-compressed payload.
	FlagCompressed byte = 1 << 0

	// MaxPayload is the largest payload a single frame can describe.
	MaxPayload = math.MaxUint32
)

const knownFlags = FlagCompressed

// Header is the decoded fixed part of a frame.
type Header struct {
	Version byte
	Flags   byte
	Length  uint32
	CRC32   uint32
}

// Compressed reports whether flag bit 0 is set.
func (h Header) Compressed() bool {
	return h.Flags&FlagCompressed != 0
}

// Marshal encodes the header in network byte order.
func (h Header) Marshal() [HeaderSize]byte {
	var b [HeaderSize]byte
	b[0] = Magic[0]
	b[1] = Magic[1]
	b[2] = h.Version
	b[3] = h.Flags
	binary.BigEndian.PutUint32(b[4:8], h.Length)
	binary.BigEndian.PutUint32(b[8:12], h.CRC32)
	return b
}

// ParseHeader decodes and validates a 12-byte header. Any mismatch is a
// framing error: the stream can no longer be trusted to be aligned.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ftperr.Newf(ftperr.KindFraming, "decode", "short header: %d bytes", len(b))
	}
	if b[0] != Magic[0] || b[1] != Magic[1] {
		return Header{}, ftperr.Newf(ftperr.KindFraming, "decode", "bad magic %#02x%02x", b[0], b[1])
	}
	h := Header{
		Version: b[2],
		Flags:   b[3],
		Length:  binary.BigEndian.Uint32(b[4:8]),
		CRC32:   binary.BigEndian.Uint32(b[8:12]),
	}
	if h.Version != Version {
		return Header{}, ftperr.Newf(ftperr.KindFraming, "decode", "unsupported version %d", h.Version)
	}
	if h.Flags&^knownFlags != 0 {
		return Header{}, ftperr.Newf(ftperr.KindFraming, "decode", "reserved flag bits set: %#02x", h.Flags)
	}
	return h, nil
}

// ReadHeader reads exactly HeaderSize bytes from r and validates them.
func ReadHeader(r io.Reader) (Header, error) {
	var b [HeaderSize]byte
	n, err := io.ReadFull(r, b[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return Header{}, ftperr.New(ftperr.KindClosed, "decode", "stream ended before frame header")
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, ftperr.Newf(ftperr.KindFraming, "decode", "truncated header: %d of %d bytes", n, HeaderSize)
		}
		return Header{}, ftperr.FromIO("decode", err)
	}
	return ParseHeader(b[:])
}

// checksum returns the IEEE CRC-32 of p.
func checksum(p []byte) uint32 {
	return crc32.ChecksumIEEE(p)
}

// compress deflates p with zlib at the given level.
func compress(p []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(p); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode builds a complete frame for payload. With compress set the payload
// is deflated, unless deflating does not make it smaller, in which case the
// raw bytes are sent with the flag clear.
func Encode(payload []byte, compressed bool) ([]byte, error) {
	return EncodeLevel(payload, compressed, zlib.DefaultCompression)
}

// EncodeLevel is Encode with an explicit zlib level.
func EncodeLevel(payload []byte, compressed bool, level int) ([]byte, error) {
	if uint64(len(payload)) > MaxPayload {
		return nil, ftperr.New(ftperr.KindIO, "encode", "payload too large for one frame")
	}

	body := payload
	var flags byte
	if compressed {
		deflated, err := compress(payload, level)
		if err != nil {
			return nil, ftperr.Wrap(ftperr.KindIO, "encode", err)
		}
		if len(deflated) < len(payload) {
			body = deflated
			flags |= FlagCompressed
		}
	}

	h := Header{
		Version: Version,
		Flags:   flags,
		Length:  uint32(len(body)),
		CRC32:   checksum(body),
	}
	hdr := h.Marshal()

	frame := make([]byte, 0, HeaderSize+len(body))
	frame = append(frame, hdr[:]...)
	frame = append(frame, body...)
	return frame, nil
}

// Decode reads one complete frame from r and returns the decoded payload.
// The payload is read with a count-based loop, so r may deliver data in
// arbitrarily small pieces.
func Decode(r io.Reader) ([]byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	// Grows with the bytes that actually arrive, not with the announced length.
	var buf bytes.Buffer
	if n, err := io.CopyN(&buf, r, int64(h.Length)); err != nil {
		return nil, truncated(err, n, int64(h.Length))
	}
	body := buf.Bytes()

	if got := checksum(body); got != h.CRC32 {
		return nil, ftperr.Newf(ftperr.KindIntegrity, "decode", "crc mismatch: header %08x, payload %08x", h.CRC32, got)
	}

	if !h.Compressed() {
		return body, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, ftperr.Wrap(ftperr.KindIntegrity, "inflate", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, ftperr.Wrap(ftperr.KindIntegrity, "inflate", err)
	}
	return out, nil
}

// truncated classifies a short payload read.
func truncated(err error, got, want int64) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ftperr.Newf(ftperr.KindFraming, "decode", "truncated payload: %d of %d bytes", got, want)
	}
	return ftperr.FromIO("decode", err)
}
