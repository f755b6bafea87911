package transport

import (
	"context"
	"sync"
)

// noneConn is the no-op connection. It accepts every payload, logs it
// at debug level and produces no reply. Devices without a reachable
// counterpart (dry runs, command table development) use this type.
type noneConn struct {
	deviceName string
	logger     Logger

	mu   sync.Mutex
	open bool
}

func newNone(opts Options) *noneConn {
	return &noneConn{
		deviceName: opts.DeviceName,
		logger:     opts.Logger,
	}
}

func (c *noneConn) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		c.open = true
		logDebug(c.logger, "connection opened", "device", c.deviceName, "type", TypeNone)
	}
	return nil
}

func (c *noneConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

func (c *noneConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *noneConn) Send(_ context.Context, p Payload) ([]byte, error) {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()
	if !open {
		return nil, ErrNotConnected
	}
	logDebug(c.logger, "simulating send", "device", c.deviceName, "payload", p.Body)
	return nil, nil
}
