package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// udpServer receives datagrams from devices that broadcast readings
// without any session. Every datagram is handed to OnData as one
// frame. The socket is receive-only; the datagram source is not a
// usable command channel, so Send always fails.
type udpServer struct {
	deviceName string
	bindAddr   string
	onData     DataFunc
	logger     Logger

	mu   sync.Mutex
	pc   net.PacketConn
	done chan struct{}
	wg   sync.WaitGroup
}

func newUDPServer(opts Options) (*udpServer, error) {
	cfg := opts.Config
	if cfg.Port == 0 {
		return nil, fmt.Errorf("%w: udpserver requires a listen port", ErrInvalidConfig)
	}
	if opts.OnData == nil {
		return nil, fmt.Errorf("%w: udpserver requires a data callback", ErrInvalidConfig)
	}
	return &udpServer{
		deviceName: opts.DeviceName,
		bindAddr:   net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		onData:     opts.OnData,
		logger:     opts.Logger,
	}, nil
}

func (c *udpServer) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pc != nil {
		return nil
	}

	pc, err := net.ListenPacket("udp", c.bindAddr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	c.pc = pc
	c.done = make(chan struct{})

	c.wg.Add(1)
	go c.readLoop(pc, c.done)

	logInfo(c.logger, "listening for datagrams", "device", c.deviceName, "type", TypeUDPServer, "addr", c.bindAddr)
	return nil
}

func (c *udpServer) Close() error {
	c.mu.Lock()
	pc := c.pc
	done := c.done
	c.pc = nil
	c.done = nil
	c.mu.Unlock()

	if pc == nil {
		return nil
	}
	close(done)
	err := pc.Close()
	c.wg.Wait()
	return err
}

func (c *udpServer) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pc != nil
}

func (c *udpServer) Send(context.Context, Payload) ([]byte, error) {
	return nil, fmt.Errorf("%w: udpserver is receive-only", ErrSendFailed)
}

func (c *udpServer) readLoop(pc net.PacketConn, done chan struct{}) {
	defer c.wg.Done()

	buf := make([]byte, replyBufSize)
	for {
		n, _, err := pc.ReadFrom(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.onData("", data)
		}
		if err != nil {
			select {
			case <-done:
			default:
				if !errors.Is(err, net.ErrClosed) {
					logWarn(c.logger, "datagram read failed", "device", c.deviceName, "error", err)
				}
			}
			return
		}
	}
}
