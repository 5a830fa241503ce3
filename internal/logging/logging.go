package logging

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"filedrop/internal/config"
	"filedrop/internal/errors"
	"filedrop/internal/filesystem"
)

// ParseLevel maps a configured level name onto a slog level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// SetupLogger initializes structured logging to stdout and, when logFile is
// set, to that file as well. The returned closer releases the file.
func SetupLogger(level, logFile string) (*slog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)

	if logFile != "" {
		if err := filesystem.EnsureDirectoryExists(filepath.Dir(logFile)); err != nil {
			return nil, nil, err
		}
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filesystem.FilePerms)
		if err != nil {
			return nil, nil, errors.NewFileSystemError("open_log", logFile, err)
		}
		// Create multi-writer to log to both console and file
		out = io.MultiWriter(os.Stdout, file)
		closer = file
	}

	logger := NewLogger(out, lvl)
	slog.SetDefault(logger)
	return logger, closer, nil
}

// NewLogger builds the text handler used everywhere in the program
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: false,
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// LogConfig logs the current configuration
func LogConfig(log *slog.Logger, cfg *config.Config) {
	if cfg.IsServer {
		log.Info("Server configuration",
			"listen_address", cfg.ListenAddress,
			"upload_dir", cfg.UploadDir,
			"workers", cfg.Workers,
			"queue", cfg.QueueSize,
			"chunk_size", humanize.IBytes(uint64(cfg.ChunkSize)),
			"read_timeout", cfg.ReadTimeout,
			"report_interval", cfg.ReportInterval,
			"max_file_size", humanize.Bytes(uint64(cfg.MaxFileSize)))
		return
	}

	var fileSize string
	if info, err := filesystem.GetFileInfo(cfg.FilePath); err == nil {
		fileSize = humanize.IBytes(uint64(info.Size))
	}
	log.Info("Client configuration",
		"server_address", cfg.ServerAddress,
		"file_size", fileSize,
		"chunk_size", humanize.IBytes(uint64(cfg.ChunkSize)),
		"timeout", cfg.Timeout)
}

// LogError logs an error with appropriate context
func LogError(log *slog.Logger, err error, context string) {
	var (
		netErr      *errors.NetworkError
		fsErr       *errors.FileSystemError
		protoErr    *errors.ProtocolError
		streamErr   *errors.StreamError
		valErr      *errors.ValidationError
		encErr      *errors.EncodingError
		conflictErr *errors.DestinationConflictError
		sizeErr     *errors.SizeMismatchError
		timeoutErr  *errors.TimeoutError
		remoteErr   *errors.RemoteFailureError
	)

	kind := errors.Kind(err)
	switch {
	case err == nil:
		return
	case stderrors.As(err, &timeoutErr):
		log.Error("Timeout", "context", context, "operation", timeoutErr.Op,
			"address", timeoutErr.Addr, "error_type", kind, "error", err)
	case stderrors.As(err, &protoErr):
		log.Error("Protocol error", "context", context, "operation", protoErr.Op,
			"message", protoErr.Message, "error_type", kind, "error", err)
	case stderrors.As(err, &conflictErr):
		log.Error("Destination already exists", "context", context,
			"path", conflictErr.Path, "error_type", kind)
	case stderrors.As(err, &sizeErr):
		log.Error("Size mismatch", "context", context, "expected", sizeErr.Expected,
			"actual", sizeErr.Actual, "error_type", kind)
	case stderrors.As(err, &valErr):
		log.Error("Validation error", "context", context, "field", valErr.Field,
			"message", valErr.Message, "error_type", kind)
	case stderrors.As(err, &encErr):
		log.Error("Encoding error", "context", context, "field", encErr.Field,
			"message", encErr.Message, "error_type", kind)
	case stderrors.As(err, &remoteErr):
		log.Error("Remote reported failure", "context", context, "address", remoteErr.Addr,
			"file", remoteErr.Name, "error_type", kind)
	case stderrors.As(err, &netErr):
		log.Error("Network error", "context", context, "operation", netErr.Op,
			"address", netErr.Addr, "error_type", kind, "error", err)
	case stderrors.As(err, &fsErr):
		log.Error("File system error", "context", context, "operation", fsErr.Op,
			"path", fsErr.Path, "error_type", kind, "error", err)
	case stderrors.As(err, &streamErr):
		log.Error("Stream error", "context", context, "operation", streamErr.Op,
			"read", streamErr.Read, "copied", streamErr.Copied, "error_type", kind, "error", err)
	default:
		log.Error("Unhandled error", "context", context, "error_type", kind, "error", err)
	}
}

// LogTransferComplete logs successful transfer completion
func LogTransferComplete(log *slog.Logger, name string, size int64, duration time.Duration) {
	secs := duration.Seconds()
	if secs <= 0 {
		secs = time.Nanosecond.Seconds()
	}
	log.Info("Transfer completed successfully",
		"file", name,
		"size", humanize.IBytes(uint64(size)),
		"duration", duration.Round(time.Millisecond),
		"average_rate", humanize.IBytes(uint64(float64(size)/secs))+"/s")
}

// LogTransferFailed logs an aborted transfer with how far it got
func LogTransferFailed(log *slog.Logger, name string, transferred, expected int64, err error) {
	log.Warn("Transfer failed",
		"file", name,
		"transferred", transferred,
		"expect", expected,
		"error_type", errors.Kind(err),
		"error", err)
}
