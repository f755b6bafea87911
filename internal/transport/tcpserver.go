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

// tcpServer listens for its device to connect in. Some hardware only
// acts as a TCP client, dialling the bridge and pushing readings over
// the socket it opened. Each inbound frame is handed to OnData; the
// command registry attributes it by reply pattern.
//
// The device has exactly one counterpart, so a new inbound connection
// replaces the previous one. Send writes to the current peer, which
// lets write commands ride the device's own socket.
type tcpServer struct {
	deviceName string
	bindAddr   string
	timeout    time.Duration
	onData     DataFunc
	logger     Logger

	mu       sync.Mutex
	listener net.Listener
	peer     net.Conn
	done     chan struct{}
	wg       sync.WaitGroup
}

func newTCPServer(opts Options) (*tcpServer, error) {
	cfg := opts.Config
	if cfg.Port == 0 {
		return nil, fmt.Errorf("%w: tcpserver requires a listen port", ErrInvalidConfig)
	}
	if opts.OnData == nil {
		return nil, fmt.Errorf("%w: tcpserver requires a data callback", ErrInvalidConfig)
	}
	return &tcpServer{
		deviceName: opts.DeviceName,
		bindAddr:   net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		timeout:    cfg.ExchangeTimeout(),
		onData:     opts.OnData,
		logger:     opts.Logger,
	}, nil
}

func (c *tcpServer) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", c.bindAddr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	c.listener = ln
	c.done = make(chan struct{})

	c.wg.Add(1)
	go c.acceptLoop(ln, c.done)

	logInfo(c.logger, "listening for device", "device", c.deviceName, "type", TypeTCPServer, "addr", c.bindAddr)
	return nil
}

func (c *tcpServer) Close() error {
	c.mu.Lock()
	ln := c.listener
	peer := c.peer
	done := c.done
	c.listener = nil
	c.peer = nil
	c.done = nil
	c.mu.Unlock()

	if ln == nil {
		return nil
	}
	close(done)
	err := ln.Close()
	if peer != nil {
		_ = peer.Close()
	}
	c.wg.Wait()
	return err
}

func (c *tcpServer) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener != nil
}

func (c *tcpServer) Send(ctx context.Context, p Payload) ([]byte, error) {
	c.mu.Lock()
	peer := c.peer
	c.mu.Unlock()

	if peer == nil {
		return nil, fmt.Errorf("%w: no device connected", ErrNotConnected)
	}

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	//nolint:errcheck // Best-effort deadline; write error caught below
	peer.SetWriteDeadline(deadline)

	if _, err := peer.Write([]byte(p.Body)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	// Replies arrive through the read loop like any other frame.
	return nil, nil
}

func (c *tcpServer) acceptLoop(ln net.Listener, done chan struct{}) {
	defer c.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
			default:
				logWarn(c.logger, "accept failed", "device", c.deviceName, "error", err)
			}
			return
		}
		c.adoptPeer(conn)
	}
}

// adoptPeer installs a freshly accepted connection as the device's
// socket, displacing any previous one.
func (c *tcpServer) adoptPeer(conn net.Conn) {
	c.mu.Lock()
	old := c.peer
	c.peer = conn
	c.mu.Unlock()

	if old != nil {
		logInfo(c.logger, "device reconnected, dropping stale socket", "device", c.deviceName)
		_ = old.Close()
	} else {
		logInfo(c.logger, "device connected", "device", c.deviceName, "remote", conn.RemoteAddr())
	}

	c.wg.Add(1)
	go c.readLoop(conn)
}

func (c *tcpServer) readLoop(conn net.Conn) {
	defer c.wg.Done()
	defer conn.Close()

	buf := make([]byte, replyBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.onData("", data)
		}
		if err != nil {
			c.mu.Lock()
			if c.peer == conn {
				c.peer = nil
			}
			c.mu.Unlock()
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logDebug(c.logger, "device socket read ended", "device", c.deviceName, "error", err)
			}
			return
		}
	}
}
