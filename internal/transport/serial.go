package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"
)

// serialClient is the request/reply serial connection. It talks to a
// character device file opened non-blocking so read deadlines work
// through the runtime poller.
//
// Line parameters (baud rate, framing) are expected to be set on the
// port before the bridge starts, typically via stty in the service
// unit; Baudrate in the device settings is recorded for operators but
// not programmed here.
type serialClient struct {
	deviceName string
	path       string
	timeout    time.Duration
	logger     Logger

	mu   sync.Mutex
	file *os.File
}

func newSerialClient(opts Options) (*serialClient, error) {
	if opts.Config.SerialPort == "" {
		return nil, fmt.Errorf("%w: serial requires a device path", ErrInvalidConfig)
	}
	return &serialClient{
		deviceName: opts.DeviceName,
		path:       opts.Config.SerialPort,
		timeout:    opts.Config.ExchangeTimeout(),
		logger:     opts.Logger,
	}, nil
}

func (c *serialClient) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file != nil {
		return nil
	}

	f, err := os.OpenFile(c.path, os.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0o600)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	if err := f.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		// Deadlines unsupported means the fd is not pollable and every
		// read would block forever. Refuse the port.
		f.Close()
		return fmt.Errorf("%w: %s does not support read deadlines: %w", ErrOpenFailed, c.path, err)
	}
	c.drainStale(f)
	c.file = f

	logDebug(c.logger, "connection opened", "device", c.deviceName, "type", TypeSerial, "path", c.path)
	return nil
}

// drainStale discards bytes buffered on the port from before the open.
// A reply read must not start with leftovers of an earlier session.
func (c *serialClient) drainStale(f *os.File) {
	buf := make([]byte, 256)
	for {
		//nolint:errcheck // Best-effort deadline during drain
		f.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
		n, err := f.Read(buf)
		if n == 0 || err != nil {
			return
		}
	}
}

func (c *serialClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

func (c *serialClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file != nil
}

func (c *serialClient) Send(ctx context.Context, p Payload) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return nil, ErrNotConnected
	}

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	if err := c.file.SetWriteDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}
	if _, err := c.file.Write([]byte(p.Body)); err != nil {
		c.dropLocked()
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	//nolint:errcheck // Deadline support verified in Open
	c.file.SetReadDeadline(deadline)
	buf := make([]byte, replyBufSize)
	n, err := c.file.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			// No reply within the window. Fine for write commands.
			return nil, nil
		}
		c.dropLocked()
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil, nil
}

// dropLocked discards the broken port handle. Caller holds c.mu.
func (c *serialClient) dropLocked() {
	if c.file != nil {
		_ = c.file.Close()
		c.file = nil
	}
	logWarn(c.logger, "connection lost", "device", c.deviceName, "type", TypeSerial, "path", c.path)
}
