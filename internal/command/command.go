// Package command models the named operations a device understands.
//
// Each device brings a YAML command table mapping command names to
// descriptors (opcode, templates, wire type, extraction path). The
// Registry owns the constructed Command set and is the single entry
// point the device uses to render outgoing payloads and decode replies.
//
// Commands are immutable once constructed; a parameter update rebuilds
// the whole registry rather than mutating commands in place.
package command

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nerrad567/gray-logic-multidev/internal/codec"
	"github.com/nerrad567/gray-logic-multidev/internal/transport"
)

// Kind selects a command variant.
type Kind string

// Recognised command kinds.
const (
	// KindText renders templated payload strings ($C/$P:key:/$V
	// substitution). The default for devices that speak text or URL
	// protocols.
	KindText Kind = "text"

	// KindData sends the opcode as-is and carries the encoded value
	// in a "data" payload field, for transports that separate command
	// and argument.
	KindData Kind = "data"
)

// ParseKind parses a kind tag; empty input selects KindText.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "":
		return KindText, nil
	case KindText, KindData:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidDefinition, s)
}

// Bounds restricts write values to a numeric range. Nil ends are
// unbounded.
type Bounds struct {
	Min *float64 `yaml:"min"`
	Max *float64 `yaml:"max"`
}

// Logger is the optional logging interface consumed by this package.
// Compatible with logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Command is one named device operation.
//
// Implementations are immutable and safe for concurrent use. The set
// of implementations is closed; construction goes through New.
type Command interface {
	// Name returns the command's unique name within its device.
	Name() string

	// Readable reports whether the command supports reads.
	Readable() bool

	// Writable reports whether the command supports writes.
	Writable() bool

	// PlatformType returns the platform-side type tag carried as
	// metadata ("" if the table does not declare one).
	PlatformType() string

	// WireType returns the canonical wire type tag in effect.
	WireType() string

	// BuildSendPayload renders the wire payload for this command.
	// A nil value renders the read form, a non-nil value the write
	// form with the value substituted.
	BuildSendPayload(value any) (transport.Payload, error)

	// DecodeReply converts raw reply bytes to a platform value,
	// applying the reply extraction path when one is configured.
	DecodeReply(raw []byte) (any, error)

	// matchesInbound reports whether raw push data looks like a reply
	// to this command. Closed to this package; the registry uses it
	// for attribution.
	matchesInbound(raw []byte) bool
}

// base carries the fields shared by every command variant.
type base struct {
	name          string
	readable      bool
	writable      bool
	opcode        string
	readTemplate  string
	writeTemplate string
	platformType  string
	wireType      string
	codec         codec.Codec
	extraParams   map[string]any
	extraction    []string
	bounds        *Bounds
	pattern       *regexp.Regexp
	params        map[string]string
}

func (c *base) Name() string         { return c.name }
func (c *base) Readable() bool       { return c.readable }
func (c *base) Writable() bool       { return c.writable }
func (c *base) PlatformType() string { return c.platformType }
func (c *base) WireType() string     { return c.wireType }

func (c *base) matchesInbound(raw []byte) bool {
	return c.pattern != nil && c.pattern.Match(raw)
}

// encodeValue runs the bounds check and codec encoding for a write
// value, returning the string substituted for $V.
func (c *base) encodeValue(value any) (string, error) {
	if err := c.checkBounds(value); err != nil {
		return "", err
	}
	encoded, err := c.codec.Encode(value)
	if err != nil {
		return "", fmt.Errorf("encode value for %q: %w", c.name, err)
	}
	return codec.Stringify(encoded), nil
}

func (c *base) checkBounds(value any) error {
	if c.bounds == nil {
		return nil
	}
	f, err := codec.Number(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOutOfBounds, err)
	}
	if c.bounds.Min != nil && f < *c.bounds.Min {
		return fmt.Errorf("%w: %v below minimum %v", ErrOutOfBounds, f, *c.bounds.Min)
	}
	if c.bounds.Max != nil && f > *c.bounds.Max {
		return fmt.Errorf("%w: %v above maximum %v", ErrOutOfBounds, f, *c.bounds.Max)
	}
	return nil
}

// DecodeReply applies extraction then codec decoding.
//
// With an extraction path the reply must be a JSON document; the path
// is drilled first and the codec coerces the extracted leaf. Without a
// path the codec sees the raw reply directly.
func (c *base) DecodeReply(raw []byte) (any, error) {
	if len(c.extraction) == 0 {
		return c.codec.Decode(raw)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: reply is not structured: %v", ErrExtractionFailed, err)
	}

	leaf, err := drill(doc, c.extraction)
	if err != nil {
		return nil, fmt.Errorf("%w: path %v: %v", ErrExtractionFailed, c.extraction, err)
	}

	return c.codec.Decode(leaf)
}

// drill follows a key path into nested mappings.
func drill(node any, path []string) (any, error) {
	current := node
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("segment %q: not a mapping", key)
		}
		v, ok := m[key]
		if !ok {
			return nil, fmt.Errorf("segment %q: missing", key)
		}
		current = v
	}
	return current, nil
}

// ─────────────────────────────────────────────────────────────────────
// Text variant
// ─────────────────────────────────────────────────────────────────────

// textCommand renders templated payload strings.
type textCommand struct {
	base
}

// BuildSendPayload selects the read or write template (falling back to
// the opcode), runs the substitution passes, and renders the extra
// parameter tree with the value-only pass.
func (c *textCommand) BuildSendPayload(value any) (transport.Payload, error) {
	tmpl := c.readTemplate
	if value != nil {
		tmpl = c.writeTemplate
	}
	if tmpl == "" {
		tmpl = c.opcode
	}

	var valueStr *string
	if value != nil {
		s, err := c.encodeValue(value)
		if err != nil {
			return transport.Payload{}, err
		}
		valueStr = &s
	}

	body := renderTemplate(tmpl, c.opcode, c.params, valueStr)
	if strings.TrimSpace(body) == "" {
		return transport.Payload{}, fmt.Errorf("%w: command %q", ErrEmptyPayload, c.name)
	}

	var fields map[string]any
	if len(c.extraParams) > 0 {
		fields = renderTree(c.extraParams, valueStr).(map[string]any)
	}

	return transport.Payload{Body: body, Fields: fields}, nil
}

// ─────────────────────────────────────────────────────────────────────
// Data variant
// ─────────────────────────────────────────────────────────────────────

// dataCommand sends the opcode unmodified and carries the encoded
// value in the "data" payload field.
type dataCommand struct {
	base
}

func (c *dataCommand) BuildSendPayload(value any) (transport.Payload, error) {
	body := c.readTemplate
	if value != nil {
		body = c.writeTemplate
	}
	if body == "" {
		body = c.opcode
	}
	if strings.TrimSpace(body) == "" {
		return transport.Payload{}, fmt.Errorf("%w: command %q", ErrEmptyPayload, c.name)
	}

	fields := make(map[string]any, len(c.extraParams)+1)
	for k, v := range c.extraParams {
		fields[k] = v
	}

	if value != nil {
		encoded, err := c.encodeValue(value)
		if err != nil {
			return transport.Payload{}, err
		}
		fields["data"] = encoded
	}

	return transport.Payload{Body: body, Fields: fields}, nil
}

// ─────────────────────────────────────────────────────────────────────
// Construction
// ─────────────────────────────────────────────────────────────────────

// Options carries the device-level context commands are built with.
type Options struct {
	// DefaultKind is the device's command variant when a descriptor
	// does not set its own. Zero value selects KindText.
	DefaultKind Kind

	// Params is the device parameter map snapshot used for $P:key:
	// substitution. Commands capture it at construction; a parameter
	// update rebuilds the registry with a fresh snapshot.
	Params map[string]string

	// Logger is optional; used for recoverable construction warnings
	// (unknown wire types).
	Logger Logger
}

// New constructs a Command from its definition.
//
// A definition with no opcode and no templates is unusable. Unknown
// wire types fall back to raw passthrough with a logged warning;
// unknown kinds and unparsable reply patterns are errors.
func New(def Definition, opts Options) (Command, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidDefinition)
	}
	if def.Opcode == "" && def.ReadTemplate == "" && def.WriteTemplate == "" {
		return nil, fmt.Errorf("%w: %q has no opcode or templates", ErrInvalidDefinition, def.Name)
	}

	kind := opts.DefaultKind
	if def.Kind != "" {
		parsed, err := ParseKind(def.Kind)
		if err != nil {
			return nil, err
		}
		kind = parsed
	}
	if kind == "" {
		kind = KindText
	}

	wireCodec, known := codec.ForTag(def.WireType)
	if !known && def.WireType != "" && opts.Logger != nil {
		opts.Logger.Warn("unknown wire type, using raw passthrough",
			"command", def.Name,
			"wire_type", def.WireType)
	}

	var pattern *regexp.Regexp
	if def.ReplyPattern != "" {
		compiled, err := regexp.Compile(def.ReplyPattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %q reply_pattern: %v", ErrInvalidDefinition, def.Name, err)
		}
		pattern = compiled
	}

	b := base{
		name:          def.Name,
		readable:      def.Read,
		writable:      def.Write,
		opcode:        def.Opcode,
		readTemplate:  def.ReadTemplate,
		writeTemplate: def.WriteTemplate,
		platformType:  def.PlatformType,
		wireType:      string(wireCodec.Tag()),
		codec:         wireCodec,
		extraParams:   def.ExtraParams,
		extraction:    def.ReplyExtraction,
		bounds:        def.ValueBounds,
		pattern:       pattern,
		params:        opts.Params,
	}

	switch kind {
	case KindData:
		return &dataCommand{base: b}, nil
	default:
		return &textCommand{base: b}, nil
	}
}
