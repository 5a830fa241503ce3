package errors

import (
	"errors"
	"fmt"
)

// Error categories. Every typed error below reports one (or more) of these
// through its Is method so callers can branch with errors.Is.
var (
	ErrIO                  = errors.New("i/o failure")
	ErrNetwork             = errors.New("network error")
	ErrFileSystem          = errors.New("file system error")
	ErrProtocol            = errors.New("protocol error")
	ErrValidation          = errors.New("validation error")
	ErrEncoding            = errors.New("encoding error")
	ErrDestinationConflict = errors.New("destination conflict")
	ErrSizeMismatch        = errors.New("size mismatch")
	ErrTimeout             = errors.New("timeout error")
	ErrRemoteFailure       = errors.New("remote failure")
)

// NetworkError represents transport failures on a connection
type NetworkError struct {
	Op   string
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s to %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork || target == ErrIO
}

// FileSystemError represents storage failures
type FileSystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileSystemError) Error() string {
	return fmt.Sprintf("file system error during %s on %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileSystemError) Unwrap() error {
	return e.Err
}

func (e *FileSystemError) Is(target error) bool {
	return target == ErrFileSystem || target == ErrIO
}

// StreamError is returned by the payload copier. Op is "read" when the source
// failed and "write" when the sink failed. Read counts bytes taken from the
// source and Copied the bytes the sink accepted; they differ only after a
// failed write.
type StreamError struct {
	Op     string
	Read   int64
	Copied int64
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s failed after %d bytes: %v", e.Op, e.Copied, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

func (e *StreamError) Is(target error) bool {
	return target == ErrIO
}

// SourceFailed reports whether the copy stopped because the source failed.
func (e *StreamError) SourceFailed() bool {
	return e.Op == "read"
}

// ProtocolError represents malformed or out-of-range frames
type ProtocolError struct {
	Op      string
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error during %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("protocol error during %s: %s", e.Op, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// ValidationError represents values rejected by a local check, such as an
// unusable destination name
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s='%v': %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// EncodingError represents invalid local file metadata detected by the sender
// before anything is written to the wire
type EncodingError struct {
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e *EncodingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encoding error for %s='%v': %s: %v", e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("encoding error for %s='%v': %s", e.Field, e.Value, e.Message)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}

// DestinationConflictError is returned when the destination already exists
type DestinationConflictError struct {
	Path string
	Err  error
}

func (e *DestinationConflictError) Error() string {
	return fmt.Sprintf("destination conflict: %s already exists", e.Path)
}

func (e *DestinationConflictError) Unwrap() error {
	return e.Err
}

func (e *DestinationConflictError) Is(target error) bool {
	return target == ErrDestinationConflict
}

// SizeMismatchError is returned when fewer (or more) bytes were stored than
// the peer declared
type SizeMismatchError struct {
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch: got %d bytes, expected %d", e.Actual, e.Expected)
}

func (e *SizeMismatchError) Is(target error) bool {
	return target == ErrSizeMismatch
}

// TimeoutError represents a read or write deadline expiring
type TimeoutError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s on %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// RemoteFailureError is returned by the sender when the server answered FAIL
type RemoteFailureError struct {
	Addr string
	Name string
}

func (e *RemoteFailureError) Error() string {
	return fmt.Sprintf("server %s reported failure storing %q", e.Addr, e.Name)
}

func (e *RemoteFailureError) Is(target error) bool {
	return target == ErrRemoteFailure
}

// Helper functions for creating errors

func NewNetworkError(op, addr string, err error) error {
	return &NetworkError{Op: op, Addr: addr, Err: err}
}

func NewFileSystemError(op, path string, err error) error {
	return &FileSystemError{Op: op, Path: path, Err: err}
}

func NewStreamError(op string, read, copied int64, err error) error {
	return &StreamError{Op: op, Read: read, Copied: copied, Err: err}
}

func NewProtocolError(op, message string, err error) error {
	return &ProtocolError{Op: op, Message: message, Err: err}
}

func NewValidationError(field string, value interface{}, message string) error {
	return &ValidationError{Field: field, Value: value, Message: message}
}

func NewEncodingError(field string, value interface{}, message string, err error) error {
	return &EncodingError{Field: field, Value: value, Message: message, Err: err}
}

func NewDestinationConflictError(path string, err error) error {
	return &DestinationConflictError{Path: path, Err: err}
}

func NewSizeMismatchError(expected, actual int64) error {
	return &SizeMismatchError{Expected: expected, Actual: actual}
}

func NewTimeoutError(op, addr string, err error) error {
	return &TimeoutError{Op: op, Addr: addr, Err: err}
}

func NewRemoteFailureError(addr, name string) error {
	return &RemoteFailureError{Addr: addr, Name: name}
}

// Kind names the category of err for structured logs. Timeouts win over the
// generic I/O categories they may also wrap.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrDestinationConflict):
		return "destination_conflict"
	case errors.Is(err, ErrSizeMismatch):
		return "size_mismatch"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrEncoding):
		return "encoding"
	case errors.Is(err, ErrRemoteFailure):
		return "remote_failure"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrFileSystem):
		return "filesystem"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "unknown"
	}
}
