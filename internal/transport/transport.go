// Package transport implements the connection types a device can use
// to reach its physical counterpart.
//
// A Connection is an exclusive, per-device transport handle. The device
// opens it on start, re-opens it on demand before sends, and closes it
// on stop. Request/reply transports return the reply bytes from Send;
// push-style transports deliver unsolicited data through the OnData
// callback from their own receive goroutines.
//
// # Types
//
//	none       log-only stub; always connected, never replies
//	http       HTTP request/reply client (payload body is the URL)
//	tcp        persistent TCP client, one request/reply at a time
//	tcpserver  listening TCP server, inbound frames pushed via OnData
//	udpserver  listening UDP socket, datagrams pushed via OnData
//	websocket  WebSocket client, request/reply plus a push read pump
//	serial     serial device file, request/reply with read deadline
//
// Selection is by explicit Type tag; Resolve infers a type from the
// settings present for devices that do not declare one.
package transport

import (
	"context"
	"time"
)

// Type identifies a connection implementation.
type Type string

// Recognised connection types.
const (
	TypeNone      Type = "none"
	TypeHTTP      Type = "http"
	TypeTCP       Type = "tcp"
	TypeTCPServer Type = "tcpserver"
	TypeUDPServer Type = "udpserver"
	TypeWebSocket Type = "websocket"
	TypeSerial    Type = "serial"
)

// DefaultTimeout is the per-exchange timeout applied when the device
// configuration does not set one.
const DefaultTimeout = 5 * time.Second

// Payload is the wire payload descriptor handed to a Connection.
//
// Body is the rendered command string (a URL for http, a line or frame
// for the byte-stream transports). Fields carries rendered extra
// parameters; each transport reads the keys it understands (the http
// client looks at method, headers, params, body) and ignores the rest.
type Payload struct {
	Body   string
	Fields map[string]any
}

// Field returns a string field by name, with ok reporting presence.
func (p Payload) Field(name string) (string, bool) {
	v, found := p.Fields[name]
	if !found {
		return "", false
	}
	s, isString := v.(string)
	if !isString {
		return "", false
	}
	return s, true
}

// Connection is the transport capability consumed by a device.
//
// Implementations are owned by exactly one device and need not be safe
// for concurrent Send calls unless documented otherwise; the http
// client is, the byte-stream clients serialise internally.
type Connection interface {
	// Open establishes the transport. Opening an already-open
	// connection is a no-op.
	Open() error

	// Close tears the transport down. Safe to call when closed.
	Close() error

	// Connected reports whether the transport is usable.
	Connected() bool

	// Send delivers a payload and returns the reply, if the exchange
	// produces one. Push-style transports return nil replies. Errors
	// are transport failures for the device to treat as send failures.
	Send(ctx context.Context, p Payload) ([]byte, error)
}

// Config holds the transport settings of one device.
//
// Only the fields relevant to the selected type are used; the rest are
// ignored.
type Config struct {
	// Host is the remote address, or the local bind address for the
	// server types.
	Host string

	// Port is the remote port, or the local listen port for the
	// server types.
	Port int

	// SerialPort is the serial device path.
	SerialPort string

	// Baudrate is informational; the line is configured out of band.
	Baudrate int

	// Path is the URL path for the websocket client ("/" if empty).
	Path string

	// Timeout bounds one exchange (connect, write, reply read).
	// Zero means DefaultTimeout.
	Timeout time.Duration
}

// ExchangeTimeout returns the configured timeout or the default.
func (c Config) ExchangeTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// DataFunc receives unsolicited inbound data from push transports.
// The command name is empty when the transport cannot attribute the
// data; attribution then falls to the command registry.
type DataFunc func(command string, data []byte)

// Logger is the optional logging interface consumed by transports.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options carries construction parameters common to every connection
// type.
type Options struct {
	// DeviceName identifies the owning device in logs.
	DeviceName string

	// Config holds the transport settings.
	Config Config

	// OnData receives pushed inbound data. Required for the server
	// and websocket types, ignored by the request/reply types.
	OnData DataFunc

	// Logger is optional; nil silences the connection.
	Logger Logger
}

// ParseType parses a connection type tag.
//
// Returns:
//   - Type: Parsed type
//   - error: ErrUnknownType if the tag is not recognised
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeNone, TypeHTTP, TypeTCP, TypeTCPServer, TypeUDPServer, TypeWebSocket, TypeSerial:
		return Type(s), nil
	}
	return "", ErrUnknownType
}

// Resolve infers a connection type from the settings present.
//
// A network port implies the HTTP request/reply client, a serial path
// implies the serial client, neither implies the no-op connection.
// The inference is a convenience default for simple HTTP devices;
// anything else should set the type explicitly.
func Resolve(cfg Config) Type {
	switch {
	case cfg.Port != 0:
		return TypeHTTP
	case cfg.SerialPort != "":
		return TypeSerial
	default:
		return TypeNone
	}
}

// New constructs a connection of the given type.
//
// Parameters:
//   - typ: Connection type tag
//   - opts: Construction options (device name, settings, callback)
//
// Returns:
//   - Connection: Ready to Open
//   - error: ErrUnknownType or ErrInvalidConfig
func New(typ Type, opts Options) (Connection, error) {
	switch typ {
	case TypeNone:
		return newNone(opts), nil
	case TypeHTTP:
		return newHTTPClient(opts)
	case TypeTCP:
		return newTCPClient(opts)
	case TypeTCPServer:
		return newTCPServer(opts)
	case TypeUDPServer:
		return newUDPServer(opts)
	case TypeWebSocket:
		return newWebSocketClient(opts)
	case TypeSerial:
		return newSerialClient(opts)
	}
	return nil, ErrUnknownType
}

// nil-guarded logging helpers shared by the connection types.

func logDebug(l Logger, msg string, keysAndValues ...any) {
	if l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func logInfo(l Logger, msg string, keysAndValues ...any) {
	if l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func logWarn(l Logger, msg string, keysAndValues ...any) {
	if l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func logError(l Logger, msg string, keysAndValues ...any) {
	if l != nil {
		l.Error(msg, keysAndValues...)
	}
}
