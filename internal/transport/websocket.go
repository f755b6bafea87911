package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsClient is the WebSocket connection. Sends write one text frame
// and wait up to the exchange timeout for the next inbound frame,
// which is returned as the reply. Frames arriving outside an exchange
// window are pushed through OnData so chatty devices that stream
// state changes still reach the registry's pattern matching.
//
// A missing reply is not an error: the frame may answer later, in
// which case it takes the OnData path, or never, which is normal for
// write commands.
type wsClient struct {
	deviceName string
	url        string
	timeout    time.Duration
	onData     DataFunc
	logger     Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending chan []byte

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func newWebSocketClient(opts Options) (*wsClient, error) {
	cfg := opts.Config
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("%w: websocket requires host and port", ErrInvalidConfig)
	}
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Path:   path,
	}
	return &wsClient{
		deviceName: opts.DeviceName,
		url:        u.String(),
		timeout:    cfg.ExchangeTimeout(),
		onData:     opts.OnData,
		logger:     opts.Logger,
	}, nil
}

func (c *wsClient) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
	conn, resp, err := dialer.Dial(c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	c.conn = conn

	c.wg.Add(1)
	go c.readPump(conn)

	logDebug(c.logger, "connection opened", "device", c.deviceName, "type", TypeWebSocket, "url", c.url)
	return nil
}

func (c *wsClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.pending = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	//nolint:errcheck // Best-effort close handshake
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := conn.Close()
	c.wg.Wait()
	return err
}

func (c *wsClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *wsClient) Send(ctx context.Context, p Payload) ([]byte, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	waiter := make(chan []byte, 1)
	c.pending = waiter
	c.mu.Unlock()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	c.writeMu.Lock()
	//nolint:errcheck // Best-effort deadline; write error caught below
	conn.SetWriteDeadline(deadline)
	err := conn.WriteMessage(websocket.TextMessage, []byte(p.Body))
	c.writeMu.Unlock()
	if err != nil {
		c.clearPending(waiter)
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case reply := <-waiter:
		return reply, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	c.clearPending(waiter)
	// The pump may have grabbed the waiter just before it was cleared.
	select {
	case reply := <-waiter:
		return reply, nil
	default:
	}
	return nil, nil
}

// clearPending removes the exchange waiter if it is still installed.
func (c *wsClient) clearPending(waiter chan []byte) {
	c.mu.Lock()
	if c.pending == waiter {
		c.pending = nil
	}
	c.mu.Unlock()
}

func (c *wsClient) readPump(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logWarn(c.logger, "websocket read error", "device", c.deviceName, "error", err)
			} else {
				logDebug(c.logger, "websocket closed", "device", c.deviceName)
			}
			return
		}
		c.deliver(message)
	}
}

// deliver routes an inbound frame to the exchange in flight, or to
// OnData when no send is waiting.
func (c *wsClient) deliver(message []byte) {
	c.mu.Lock()
	waiter := c.pending
	c.pending = nil
	c.mu.Unlock()

	if waiter != nil {
		waiter <- message
		return
	}
	if c.onData != nil {
		c.onData("", message)
		return
	}
	logDebug(c.logger, "unsolicited frame discarded", "device", c.deviceName, "bytes", len(message))
}
