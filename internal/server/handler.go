package server

import (
	"bufio"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"filedrop/internal/errors"
	"filedrop/internal/filesystem"
	"filedrop/internal/logging"
	"filedrop/internal/network"
	"filedrop/internal/progress"
	"filedrop/internal/protocol"
	"filedrop/internal/stream"
)

// transfer is the state of one connection between header and status
type transfer struct {
	clientID string
	id       string
	log      *slog.Logger
	req      *protocol.Request
	path     string
	progress *progress.Progress
}

// handleConnection runs one request/response exchange and always closes conn.
// Nothing it does propagates to the caller.
func (s *Server) handleConnection(conn net.Conn) {
	clientID := conn.RemoteAddr().String()
	t := &transfer{clientID: clientID, id: uuid.NewString()}
	t.log = s.log.With("client", clientID, "transfer_id", t.id)

	defer func() {
		if r := recover(); r != nil {
			t.log.Error("Connection handler panicked", "panic", r)
			s.failed.Add(1)
		}
		conn.Close()
		s.untrack(conn)
	}()

	reader := bufio.NewReaderSize(conn, s.cfg.BufferSize)

	req, err := protocol.DecodeRequestHeader(reader, s.limits)
	if err != nil {
		// No status byte: the peer never completed a request
		s.failed.Add(1)
		logging.LogError(t.log, network.ClassifyError("read_header", clientID, err), "read_header")
		return
	}
	t.req = req
	t.log = t.log.With("file", req.Name, "size", req.FileSize)
	t.log.Info("Receiving file")

	start := time.Now()
	err = s.receive(t, reader)

	status := protocol.StatusOK
	if err != nil {
		status = protocol.StatusFail
		s.failed.Add(1)
		var transferred int64
		if t.progress != nil {
			transferred = t.progress.Transferred()
		}
		logging.LogTransferFailed(t.log, req.Name, transferred, req.FileSize, err)
	} else {
		s.completed.Add(1)
		logging.LogTransferComplete(t.log.With("path", t.path,
			"content_type", filesystem.DetectContentType(t.path)), req.Name, req.FileSize, time.Since(start))
	}

	if err := s.respond(conn, status); err != nil {
		t.log.Warn("Failed to send status", "status", status,
			"error", network.ClassifyError("write_status", clientID, err))
	}
}

// receive opens the destination and streams the declared payload into it.
// Whenever it returns an error the destination has been rolled back and the
// declared payload has been consumed as far as the peer allowed.
func (s *Server) receive(t *transfer, r io.Reader) error {
	req := t.req

	path, err := filesystem.ResolveDestination(s.root, req.Name)
	if err != nil {
		s.drain(t, r, req.FileSize)
		return err
	}

	file, err := s.createFile(path)
	if err != nil {
		s.drain(t, r, req.FileSize)
		return err
	}
	t.path = path

	t.progress = progress.New(t.clientID, t.id, req.Name, req.FileSize)
	reporter := progress.NewReporter(t.progress, s.sink, s.cfg.ReportInterval)
	reporter.Start(s.scheduler)
	defer reporter.Finish()

	if err := s.streamBody(t, r, file); err != nil {
		file.Close()
		filesystem.RemovePartial(path, t.log)
		return err
	}

	if err := filesystem.Finalize(file); err != nil {
		filesystem.RemovePartial(path, t.log)
		return err
	}
	return nil
}

func (s *Server) streamBody(t *transfer, r io.Reader, file *os.File) error {
	req := t.req

	copied, err := stream.Copy(r, file, req.FileSize, s.cfg.ChunkSize, t.progress.Set)
	if err != nil {
		var streamErr *errors.StreamError
		if stderrors.As(err, &streamErr) && !streamErr.SourceFailed() {
			// The sink failed but the peer is still sending
			s.drain(t, r, req.FileSize-streamErr.Read)
			return err
		}
		return network.ClassifyError("read_payload", t.clientID, err)
	}

	if copied != req.FileSize {
		return errors.NewSizeMismatchError(req.FileSize, copied)
	}
	return nil
}

// drain discards up to n payload bytes so the peer can finish writing and
// read the status. It is bounded by the idle read deadline.
func (s *Server) drain(t *transfer, r io.Reader, n int64) {
	if n <= 0 {
		return
	}
	discarded, err := stream.Discard(r, n, s.cfg.ChunkSize)
	if err != nil || discarded != n {
		t.log.Debug("Payload drain ended early", "discarded", discarded, "wanted", n,
			"error", network.ClassifyError("drain_payload", t.clientID, err))
	}
}

// respond writes the single status byte under the write deadline
func (s *Server) respond(conn net.Conn, status protocol.Status) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return errors.NewNetworkError("set_write_deadline", conn.RemoteAddr().String(), err)
	}
	return protocol.WriteStatus(conn, status)
}
