// Package stream copies a declared number of payload bytes between a source
// and a sink one chunk at a time.
package stream

import (
	"io"

	"filedrop/internal/errors"
)

// DefaultChunkSize is the read/write unit used when the caller passes zero
const DefaultChunkSize = 256 * 1024

// Copy moves up to total bytes from src to dst. It stops early without error
// when src reports io.EOF, so the caller decides whether a short copy is a
// failure. onProgress, if set, receives the running byte count after every
// chunk is written. Only one chunk is held in memory.
//
// When dst fails the returned *errors.StreamError carries in Read how much of
// src was consumed, which is what a caller draining the rest must subtract.
func Copy(src io.Reader, dst io.Writer, total int64, chunkSize int, onProgress func(int64)) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if total <= 0 {
		return 0, nil
	}
	if int64(chunkSize) > total {
		chunkSize = int(total)
	}

	buffer := make([]byte, chunkSize)
	var read, copied int64

	for read < total {
		want := int64(len(buffer))
		if remaining := total - read; remaining < want {
			want = remaining
		}

		n, readErr := src.Read(buffer[:want])
		if n > 0 {
			read += int64(n)
			written, writeErr := dst.Write(buffer[:n])
			copied += int64(written)
			if writeErr == nil && written != n {
				writeErr = io.ErrShortWrite
			}
			if writeErr != nil {
				return copied, errors.NewStreamError("write", read, copied, writeErr)
			}
			if onProgress != nil {
				onProgress(copied)
			}
		}

		if readErr == io.EOF {
			return copied, nil
		}
		if readErr != nil {
			return copied, errors.NewStreamError("read", read, copied, readErr)
		}
	}

	return copied, nil
}

// Discard consumes up to n bytes from src without storing them. It is used to
// drain a payload that will not be kept so the peer's writes complete.
func Discard(src io.Reader, n int64, chunkSize int) (int64, error) {
	return Copy(src, io.Discard, n, chunkSize, nil)
}
