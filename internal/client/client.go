package client

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"filedrop/internal/config"
	"filedrop/internal/errors"
	"filedrop/internal/filesystem"
	"filedrop/internal/network"
	"filedrop/internal/protocol"
	"filedrop/internal/stream"
)

// Process exit codes for the send command
const (
	ExitOK            = 0
	ExitRemoteFailure = 1
	ExitNetwork       = 2
	ExitPrecondition  = 3
)

// progressWriter is where the progress bar renders
var progressWriter io.Writer = os.Stderr

// Result describes a transfer the server accepted
type Result struct {
	Name     string
	Size     int64
	Duration time.Duration
}

// Send uploads cfg.FilePath to cfg.ServerAddress and waits for the status
// byte. Every failure is one of the typed errors ExitCode understands.
func Send(ctx context.Context, cfg *config.Config) (*Result, error) {
	fileInfo, err := filesystem.GetFileInfo(cfg.FilePath)
	if err != nil {
		return nil, errors.NewEncodingError("file", cfg.FilePath, "cannot stat source file", err)
	}
	if !fileInfo.IsFile {
		return nil, errors.NewEncodingError("file", cfg.FilePath, "not a regular file", nil)
	}

	frame, err := protocol.EncodeRequest(fileInfo.Name, fileInfo.Size, cfg.Limits())
	if err != nil {
		return nil, err
	}

	file, err := os.Open(cfg.FilePath)
	if err != nil {
		return nil, errors.NewEncodingError("file", cfg.FilePath, "cannot open source file", err)
	}
	defer file.Close()

	slog.Info("Starting client", "server", cfg.ServerAddress, "file", fileInfo.Name,
		"size", humanize.IBytes(uint64(fileInfo.Size)))

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.ServerAddress)
	if err != nil {
		return nil, network.ClassifyError("dial", cfg.ServerAddress,
			errors.NewNetworkError("dial", cfg.ServerAddress, err))
	}
	defer conn.Close()

	// Unblock any pending read or write when the caller gives up
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := network.OptimizeTCPConnection(conn); err != nil {
		slog.Warn("Failed to optimize TCP connection", "error", err)
	}

	start := time.Now()
	if err := sendRequest(conn, file, frame, fileInfo, cfg); err != nil {
		return nil, err
	}

	status, err := awaitStatus(conn, cfg)
	if err != nil {
		return nil, err
	}

	switch status {
	case protocol.StatusOK:
		result := &Result{Name: fileInfo.Name, Size: fileInfo.Size, Duration: time.Since(start)}
		slog.Info("Server accepted file", "file", result.Name,
			"size", humanize.IBytes(uint64(result.Size)),
			"duration", result.Duration.Round(time.Millisecond))
		return result, nil
	default:
		return nil, errors.NewRemoteFailureError(cfg.ServerAddress, fileInfo.Name)
	}
}

// sendRequest writes the header and streams the payload. Each chunk pushes
// the write deadline forward so only a stalled server times out.
func sendRequest(conn net.Conn, file io.Reader, frame []byte, info *filesystem.FileInfo, cfg *config.Config) error {
	addr := cfg.ServerAddress
	extendDeadline := func() {
		conn.SetWriteDeadline(time.Now().Add(cfg.Timeout))
	}
	extendDeadline()

	writer := bufio.NewWriterSize(conn, cfg.BufferSize)
	if _, err := writer.Write(frame); err != nil {
		return network.ClassifyError("send_header", addr, errors.NewNetworkError("send_header", addr, err))
	}

	bar := newProgressBar(info, cfg.ShowProgress)
	copied, err := stream.Copy(file, writer, info.Size, cfg.ChunkSize, func(n int64) {
		extendDeadline()
		if bar != nil {
			_ = bar.Set64(n)
		}
	})
	if bar != nil {
		_ = bar.Finish()
	}

	if err != nil {
		var streamErr *errors.StreamError
		if stderrors.As(err, &streamErr) && streamErr.SourceFailed() {
			return errors.NewFileSystemError("read", cfg.FilePath, err)
		}
		return network.ClassifyError("send_payload", addr, errors.NewNetworkError("send_payload", addr, err))
	}
	if copied != info.Size {
		// The file shrank after it was measured
		return errors.NewSizeMismatchError(info.Size, copied)
	}

	if err := writer.Flush(); err != nil {
		return network.ClassifyError("send_payload", addr, errors.NewNetworkError("flush", addr, err))
	}
	return nil
}

// awaitStatus reads exactly one status byte under the configured timeout
func awaitStatus(conn net.Conn, cfg *config.Config) (protocol.Status, error) {
	addr := cfg.ServerAddress
	if err := conn.SetReadDeadline(time.Now().Add(cfg.Timeout)); err != nil {
		return protocol.StatusUnknown, errors.NewNetworkError("set_read_deadline", addr, err)
	}

	status, raw, err := protocol.DecodeStatus(conn)
	if err != nil {
		// The server hung up without answering
		cause := err
		var protoErr *errors.ProtocolError
		if stderrors.As(err, &protoErr) && protoErr.Err != nil {
			cause = protoErr.Err
		}
		return protocol.StatusUnknown, network.ClassifyError("read_status", addr,
			errors.NewNetworkError("read_status", addr, cause))
	}
	if status == protocol.StatusUnknown {
		return status, errors.NewProtocolError("read_status", fmt.Sprintf("unknown status byte 0x%02x", raw), nil)
	}
	return status, nil
}

func newProgressBar(info *filesystem.FileInfo, show bool) *progressbar.ProgressBar {
	if !show {
		return nil
	}
	return progressbar.NewOptions64(info.Size,
		progressbar.OptionSetDescription(fmt.Sprintf("Sending %s", info.Name)),
		progressbar.OptionSetWriter(progressWriter),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)
}

// ExitCode maps the outcome of Send to a process exit status
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case stderrors.Is(err, errors.ErrRemoteFailure):
		return ExitRemoteFailure
	case stderrors.Is(err, errors.ErrTimeout), stderrors.Is(err, errors.ErrNetwork):
		return ExitNetwork
	case stderrors.Is(err, errors.ErrProtocol):
		return ExitRemoteFailure
	case stderrors.Is(err, errors.ErrEncoding),
		stderrors.Is(err, errors.ErrFileSystem),
		stderrors.Is(err, errors.ErrValidation),
		stderrors.Is(err, errors.ErrSizeMismatch):
		return ExitPrecondition
	default:
		return ExitRemoteFailure
	}
}
