package stream

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"
	"testing/iotest"

	fderrors "filedrop/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.New(rand.NewSource(42)).Read(data)
	require.NoError(t, err)
	return data
}

func TestCopy_ExactTotal(t *testing.T) {
	data := randomBytes(t, 1<<20+123)
	var dst bytes.Buffer

	n, err := Copy(bytes.NewReader(data), &dst, int64(len(data)), 64*1024, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, data, dst.Bytes())
}

func TestCopy_StopsAtTotal(t *testing.T) {
	data := randomBytes(t, 1000)
	src := bytes.NewReader(data)
	var dst bytes.Buffer

	n, err := Copy(src, &dst, 600, 128, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(600), n)
	assert.Equal(t, data[:600], dst.Bytes())
	assert.Equal(t, 400, src.Len(), "bytes past total must stay unread")
}

func TestCopy_EarlyEOF(t *testing.T) {
	data := randomBytes(t, 1000)
	var dst bytes.Buffer

	n, err := Copy(bytes.NewReader(data), &dst, 2048, 256, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n)
}

func TestCopy_ShortReadsCountActualBytes(t *testing.T) {
	data := randomBytes(t, 5000)
	var dst bytes.Buffer

	// OneByteReader returns a single byte per call regardless of buffer size
	n, err := Copy(iotest.OneByteReader(bytes.NewReader(data)), &dst, 5000, 1024, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), n)
	assert.Equal(t, data, dst.Bytes())
}

func TestCopy_ProgressIsMonotonic(t *testing.T) {
	data := randomBytes(t, 10_000)
	var seen []int64

	n, err := Copy(iotest.HalfReader(bytes.NewReader(data)), io.Discard, int64(len(data)), 700, func(c int64) {
		seen = append(seen, c)
	})
	require.NoError(t, err)
	require.NotEmpty(t, seen)

	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1])
	}
	assert.Equal(t, n, seen[len(seen)-1])
}

func TestCopy_ReadError(t *testing.T) {
	cause := errors.New("connection reset by peer")
	src := io.MultiReader(bytes.NewReader(make([]byte, 300)), iotest.ErrReader(cause))

	n, err := Copy(src, io.Discard, 1000, 128, nil)
	require.Error(t, err)
	assert.Equal(t, int64(300), n)

	var se *fderrors.StreamError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.SourceFailed())
	assert.ErrorIs(t, err, cause)
}

type failingWriter struct {
	limit   int
	written int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.written+len(p) > w.limit {
		return 0, errors.New("no space left on device")
	}
	w.written += len(p)
	return len(p), nil
}

func TestCopy_WriteError(t *testing.T) {
	data := randomBytes(t, 1000)
	dst := &failingWriter{limit: 500}

	n, err := Copy(bytes.NewReader(data), dst, 1000, 100, nil)
	require.Error(t, err)
	assert.Equal(t, int64(500), n)

	var se *fderrors.StreamError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.SourceFailed())
	// The rejected chunk was already taken from the source
	assert.Equal(t, int64(600), se.Read)
	assert.Equal(t, int64(500), se.Copied)
}

func TestCopy_WriteErrorThenDrainConsumesExactlyTheRest(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		chunk int
	}{
		{"first write fails", 0, 1024},
		{"mid payload", 1500, 512},
		{"last chunk fails", 3584, 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			const total = 4096
			src := bytes.NewReader(randomBytes(t, total))

			_, err := Copy(src, &failingWriter{limit: tt.limit}, total, tt.chunk, nil)
			var se *fderrors.StreamError
			require.True(t, errors.As(err, &se))

			n, err := Discard(src, total-se.Read, tt.chunk)
			require.NoError(t, err)
			assert.Equal(t, total-se.Read, n)
			assert.Zero(t, src.Len(), "drain must stop at the end of the payload")
		})
	}
}

func TestCopy_ZeroTotal(t *testing.T) {
	called := false
	n, err := Copy(bytes.NewReader([]byte("ignored")), io.Discard, 0, 0, func(int64) { called = true })
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, called)
}

func TestDiscard(t *testing.T) {
	src := bytes.NewReader(make([]byte, 4096))

	n, err := Discard(src, 3000, 512)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), n)
	assert.Equal(t, 1096, src.Len())
}
