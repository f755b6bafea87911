package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// replyBufSize is the read buffer for one reply frame on the
// byte-stream transports. Device replies are short status lines.
const replyBufSize = 4096

// tcpClient is the persistent request/reply TCP connection. One socket
// is held open across sends; exchanges are serialised so a reply can
// only belong to the payload just written.
//
// A send writes the payload body and then reads whatever the peer
// returns within the exchange timeout. Reading nothing before the
// deadline is not an error: write-style commands often produce no
// reply. A broken socket marks the connection dead so the owning
// device re-opens it before the next send.
type tcpClient struct {
	deviceName string
	addr       string
	timeout    time.Duration
	logger     Logger

	mu   sync.Mutex
	conn net.Conn
}

func newTCPClient(opts Options) (*tcpClient, error) {
	cfg := opts.Config
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("%w: tcp requires host and port", ErrInvalidConfig)
	}
	return &tcpClient{
		deviceName: opts.DeviceName,
		addr:       net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		timeout:    cfg.ExchangeTimeout(),
		logger:     opts.Logger,
	}, nil
}

func (c *tcpClient) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	c.conn = conn

	logDebug(c.logger, "connection opened", "device", c.deviceName, "type", TypeTCP, "addr", c.addr)
	return nil
}

func (c *tcpClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *tcpClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *tcpClient) Send(ctx context.Context, p Payload) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}

	if _, err := c.conn.Write([]byte(p.Body)); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	buf := make([]byte, replyBufSize)
	n, err := c.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		if isTimeout(err) {
			// No reply within the window. Fine for write commands.
			return nil, nil
		}
		c.dropLocked()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: peer closed connection", ErrSendFailed)
		}
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil, nil
}

// dropLocked discards the broken socket. Caller holds c.mu.
func (c *tcpClient) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	logWarn(c.logger, "connection lost", "device", c.deviceName, "type", TypeTCP, "addr", c.addr)
}

// isTimeout reports whether err is a network timeout.
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
