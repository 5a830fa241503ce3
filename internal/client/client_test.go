package client

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filedrop/internal/config"
	"filedrop/internal/errors"
	"filedrop/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	req     *protocol.Request
	payload []byte
}

// fakeServer accepts one connection, reads a full request and answers with
// reply. A negative reply closes the connection without a status byte.
func fakeServer(t *testing.T, reply int) (string, <-chan received) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	got := make(chan received, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		req, err := protocol.DecodeRequestHeader(conn, protocol.DefaultLimits())
		if err != nil {
			return
		}
		payload := make([]byte, req.FileSize)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		got <- received{req: req, payload: payload}

		if reply >= 0 {
			conn.Write([]byte{byte(reply)})
		}
	}()

	return ln.Addr().String(), got
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func clientConfig(addr, path string) *config.Config {
	cfg := config.Default(false)
	cfg.ServerAddress = addr
	cfg.FilePath = path
	cfg.Timeout = 5 * time.Second
	cfg.ChunkSize = 4096
	cfg.ShowProgress = false
	return cfg
}

func TestSend_Success(t *testing.T) {
	addr, got := fakeServer(t, int(protocol.StatusOK))
	data := bytes.Repeat([]byte("filedrop "), 10000)
	path := writeFile(t, "a.bin", data)

	result, err := Send(context.Background(), clientConfig(addr, path))
	require.NoError(t, err)
	assert.Equal(t, "a.bin", result.Name)
	assert.Equal(t, int64(len(data)), result.Size)
	assert.Equal(t, ExitOK, ExitCode(err))

	r := <-got
	assert.Equal(t, "a.bin", r.req.Name)
	assert.Equal(t, int64(len(data)), r.req.FileSize)
	assert.Equal(t, data, r.payload)
}

func TestSend_EmptyFile(t *testing.T) {
	addr, got := fakeServer(t, int(protocol.StatusOK))
	path := writeFile(t, "empty.txt", nil)

	result, err := Send(context.Background(), clientConfig(addr, path))
	require.NoError(t, err)
	assert.Zero(t, result.Size)
	assert.Empty(t, (<-got).payload)
}

func TestSend_ServerOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		reply    int
		sentinel error
		exitCode int
	}{
		{name: "server reports failure", reply: int(protocol.StatusFail), sentinel: errors.ErrRemoteFailure, exitCode: ExitRemoteFailure},
		{name: "unknown status byte", reply: 0x7F, sentinel: errors.ErrProtocol, exitCode: ExitRemoteFailure},
		{name: "closed without status", reply: -1, sentinel: errors.ErrNetwork, exitCode: ExitNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, _ := fakeServer(t, tt.reply)
			path := writeFile(t, "b.bin", []byte("payload"))

			result, err := Send(context.Background(), clientConfig(addr, path))
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.exitCode, ExitCode(err))
		})
	}
}

func TestSend_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Send(context.Background(), clientConfig(addr, writeFile(t, "c.bin", []byte("x"))))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNetwork)
	assert.Equal(t, ExitNetwork, ExitCode(err))
}

func TestSend_LocalPreconditions(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name   string
		path   string
		mutate func(*config.Config)
	}{
		{name: "missing file", path: filepath.Join(dir, "missing.bin")},
		{name: "directory", path: dir},
		{
			name:   "name longer than the limit",
			path:   writeFile(t, "long-name.bin", []byte("x")),
			mutate: func(c *config.Config) { c.MaxNameBytes = 4 },
		},
		{
			name:   "file larger than the limit",
			path:   writeFile(t, "big.bin", make([]byte, 100)),
			mutate: func(c *config.Config) { c.MaxFileSize = 10 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Nothing listens here; preconditions fail before dialing
			cfg := clientConfig("127.0.0.1:1", tt.path)
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			_, err := Send(context.Background(), cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrEncoding)
			assert.Equal(t, ExitPrecondition, ExitCode(err))
		})
	}
}

func TestSend_StalledServerTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	// Accept and read everything, but never answer
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(io.Discard, conn)
	}()

	cfg := clientConfig(ln.Addr().String(), writeFile(t, "d.bin", []byte("payload")))
	cfg.Timeout = 100 * time.Millisecond

	_, err = Send(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTimeout)
	assert.Equal(t, ExitNetwork, ExitCode(err))
}

func TestSend_ProgressBar(t *testing.T) {
	var out bytes.Buffer
	previous := progressWriter
	progressWriter = &out
	t.Cleanup(func() { progressWriter = previous })

	addr, _ := fakeServer(t, int(protocol.StatusOK))
	cfg := clientConfig(addr, writeFile(t, "e.bin", make([]byte, 64*1024)))
	cfg.ShowProgress = true

	_, err := Send(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out.String(), "Sending e.bin"))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitOK},
		{"remote failure", errors.NewRemoteFailureError("h:1", "a.bin"), ExitRemoteFailure},
		{"unknown status", errors.NewProtocolError("read_status", "unknown status byte 0x07", nil), ExitRemoteFailure},
		{"network", errors.NewNetworkError("dial", "h:1", io.EOF), ExitNetwork},
		{"timeout", errors.NewTimeoutError("read_status", "h:1", os.ErrDeadlineExceeded), ExitNetwork},
		{"encoding", errors.NewEncodingError("name", "", "empty", nil), ExitPrecondition},
		{"filesystem", errors.NewFileSystemError("read", "a.bin", io.ErrUnexpectedEOF), ExitPrecondition},
		{"file shrank", errors.NewSizeMismatchError(10, 5), ExitPrecondition},
		{"other", io.ErrClosedPipe, ExitRemoteFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}
