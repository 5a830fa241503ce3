package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"filedrop/internal/errors"
)

// Magic tags every request header. Both ends must agree on it.
const Magic uint32 = 0x12345678

// HeaderSize is the fixed part of a request: magic, name length, file size.
const HeaderSize = 4 + 4 + 8

// Default bounds applied to request headers
const (
	DefaultMaxNameBytes = 4096
	DefaultMaxFileSize  = 1_000_000_000_000 // ~1 TB
)

// Status is the single response byte written by the server
type Status byte

const (
	StatusFail    Status = 0x00
	StatusOK      Status = 0x01
	StatusUnknown Status = 0xFF
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// Limits bounds the header fields a peer may declare
type Limits struct {
	MaxNameBytes uint32
	MaxFileSize  int64
}

// DefaultLimits returns the protocol's default bounds
func DefaultLimits() Limits {
	return Limits{MaxNameBytes: DefaultMaxNameBytes, MaxFileSize: DefaultMaxFileSize}
}

// Request is a decoded request header. The payload follows it on the wire.
type Request struct {
	Name     string
	FileSize int64
}

// EncodeRequest builds the header for name and fileSize
func EncodeRequest(name string, fileSize int64, limits Limits) ([]byte, error) {
	nameLen := len(name)
	if nameLen == 0 || uint64(nameLen) > uint64(limits.MaxNameBytes) {
		return nil, errors.NewEncodingError("name", name,
			fmt.Sprintf("name must be 1..%d bytes in UTF-8, got %d", limits.MaxNameBytes, nameLen), nil)
	}
	if !utf8.ValidString(name) {
		return nil, errors.NewEncodingError("name", name, "name is not valid UTF-8", nil)
	}
	if fileSize < 0 || fileSize > limits.MaxFileSize {
		return nil, errors.NewEncodingError("file_size", fileSize,
			fmt.Sprintf("file size must be 0..%d", limits.MaxFileSize), nil)
	}

	buf := make([]byte, HeaderSize+nameLen)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(nameLen))
	binary.BigEndian.PutUint64(buf[8:16], uint64(fileSize))
	copy(buf[HeaderSize:], name)
	return buf, nil
}

// DecodeRequestHeader reads one request header from r. The fixed fields are
// validated before the name is allocated or read, and nothing past the name
// is consumed.
func DecodeRequestHeader(r io.Reader, limits Limits) (*Request, error) {
	var fixed [HeaderSize]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, errors.NewProtocolError("decode_header", "short header", err)
	}

	magic := binary.BigEndian.Uint32(fixed[0:4])
	if magic != Magic {
		return nil, errors.NewProtocolError("decode_header", fmt.Sprintf("bad magic 0x%08x", magic), nil)
	}

	nameLen := binary.BigEndian.Uint32(fixed[4:8])
	if nameLen == 0 || nameLen > limits.MaxNameBytes {
		return nil, errors.NewProtocolError("decode_header",
			fmt.Sprintf("name length %d outside 1..%d", nameLen, limits.MaxNameBytes), nil)
	}

	fileSize := binary.BigEndian.Uint64(fixed[8:16])
	if fileSize > uint64(limits.MaxFileSize) {
		return nil, errors.NewProtocolError("decode_header",
			fmt.Sprintf("file size %d exceeds %d", fileSize, limits.MaxFileSize), nil)
	}

	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, errors.NewProtocolError("decode_header", "short name", err)
	}

	return &Request{Name: string(name), FileSize: int64(fileSize)}, nil
}

// WriteStatus writes the response byte and flushes buffered writers
func WriteStatus(w io.Writer, status Status) error {
	if _, err := w.Write([]byte{byte(status)}); err != nil {
		return errors.NewProtocolError("write_status", fmt.Sprintf("failed to send %s", status), err)
	}
	if bw, ok := w.(*bufio.Writer); ok {
		if err := bw.Flush(); err != nil {
			return errors.NewProtocolError("write_status", "failed to flush status", err)
		}
	}
	return nil
}

// DecodeStatus reads exactly one response byte. Unrecognized values map to
// StatusUnknown together with the raw byte.
func DecodeStatus(r io.Reader) (Status, byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return StatusUnknown, 0, errors.NewProtocolError("decode_status", "missing status byte", err)
	}
	switch Status(b[0]) {
	case StatusOK, StatusFail:
		return Status(b[0]), b[0], nil
	default:
		return StatusUnknown, b[0], nil
	}
}
