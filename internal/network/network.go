package network

import (
	stderrors "errors"
	"log/slog"
	"net"
	"os"
	"time"

	"filedrop/internal/errors"
)

// Socket tuning applied to every accepted or dialed connection
const (
	TCPBufferSize   = 1024 * 1024 // 1MB
	KeepAlivePeriod = 30 * time.Second
)

// OptimizeTCPConnection applies TCP optimizations to a connection
func OptimizeTCPConnection(conn net.Conn) error {
	tcpConn, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return nil // Not a TCP connection, skip optimizations
	}

	// Enable keep-alive to detect dead connections
	if err := tcpConn.SetKeepAlive(true); err != nil {
		return errors.NewNetworkError("set_keepalive", conn.RemoteAddr().String(), err)
	}

	if err := tcpConn.SetKeepAlivePeriod(KeepAlivePeriod); err != nil {
		slog.Warn("Failed to set TCP keepalive period", "error", err)
	}

	// Payload is written in large chunks; Nagle only delays the status byte
	if err := tcpConn.SetNoDelay(true); err != nil {
		slog.Warn("Failed to disable Nagle's algorithm", "error", err)
	}

	if err := tcpConn.SetReadBuffer(TCPBufferSize); err != nil {
		slog.Warn("Failed to set TCP read buffer", "error", err)
	}

	if err := tcpConn.SetWriteBuffer(TCPBufferSize); err != nil {
		slog.Warn("Failed to set TCP write buffer", "error", err)
	}

	return nil
}

// IdleTimeoutConn pushes the read deadline forward before every Read, so a
// peer that keeps sending is never cut off while a stalled one is. Write
// deadlines are set explicitly by callers.
type IdleTimeoutConn struct {
	net.Conn
	ReadTimeout time.Duration
}

// WithIdleTimeout wraps conn with a per-read idle deadline. A zero timeout
// returns conn unchanged.
func WithIdleTimeout(conn net.Conn, readTimeout time.Duration) net.Conn {
	if readTimeout <= 0 {
		return conn
	}
	return &IdleTimeoutConn{Conn: conn, ReadTimeout: readTimeout}
}

func (c *IdleTimeoutConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.ReadTimeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

// IsTimeout reports whether err was caused by an expired deadline
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// ClassifyError turns a raw transport failure into a TimeoutError when a
// deadline expired and leaves every other error untouched
func ClassifyError(op, addr string, err error) error {
	if err == nil || stderrors.Is(err, errors.ErrTimeout) {
		return err
	}
	if IsTimeout(err) {
		return errors.NewTimeoutError(op, addr, err)
	}
	return err
}
