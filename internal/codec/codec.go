// Package codec converts between platform values and device wire
// representations.
//
// Every command in a device's command table names a wire type; the
// matching Codec translates outgoing values into the form the device
// expects and incoming replies into platform values. Codecs are
// selected once at command construction via ForTag and are stateless,
// so a single instance is shared safely across commands and devices.
//
// # Wire types
//
//	raw     passthrough (bytes normalised to string)
//	text    string coercion both ways
//	number  float64 platform side, canonical decimal string wire side
//	bool    bool platform side, true/false wire side (accepts on/off,
//	        yes/no, 0/1 inbound)
//	json    structured values, JSON document wire side
//
// Unknown tags fall back to raw; the caller is expected to log the
// substitution (it is a recoverable configuration mistake, not a fault).
package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Tag identifies a wire type in command descriptors.
type Tag string

// Recognised wire type tags.
const (
	TagRaw    Tag = "raw"
	TagText   Tag = "text"
	TagNumber Tag = "number"
	TagBool   Tag = "bool"
	TagJSON   Tag = "json"
)

// Codec converts between platform values and wire values.
//
// Encode produces the value substituted into outgoing payloads; Decode
// interprets device replies. Both directions operate on `any` because
// wire data arrives as bytes or strings from request/reply transports
// and as already-structured fragments when a reply-extraction path has
// been applied first.
type Codec interface {
	// Tag returns the canonical tag this codec is registered under.
	Tag() Tag

	// Encode converts a platform value to its wire representation.
	Encode(value any) (any, error)

	// Decode converts wire data to a platform value.
	Decode(data any) (any, error)
}

// descriptor aliases map the wire type spellings accepted in command
// tables onto canonical tags. The short forms match the names devices
// historically used in their tables.
var aliases = map[string]Tag{
	"raw":     TagRaw,
	"text":    TagText,
	"str":     TagText,
	"string":  TagText,
	"number":  TagNumber,
	"num":     TagNumber,
	"bool":    TagBool,
	"boolean": TagBool,
	"json":    TagJSON,
	"dict":    TagJSON,
}

var codecs = map[Tag]Codec{
	TagRaw:    rawCodec{},
	TagText:   textCodec{},
	TagNumber: numberCodec{},
	TagBool:   boolCodec{},
	TagJSON:   jsonCodec{},
}

// ForTag resolves a wire type tag to its Codec.
//
// Unknown or empty tags resolve to the raw passthrough codec with
// ok=false; callers should log the fallback and continue.
//
// Parameters:
//   - tag: Wire type tag from a command descriptor (case-insensitive)
//
// Returns:
//   - Codec: Resolved codec (raw passthrough when unknown)
//   - bool: False if the tag was not recognised
func ForTag(tag string) (Codec, bool) {
	canonical, found := aliases[strings.ToLower(strings.TrimSpace(tag))]
	if !found {
		return codecs[TagRaw], false
	}
	return codecs[canonical], true
}

// ─────────────────────────────────────────────────────────────────────
// Raw passthrough
// ─────────────────────────────────────────────────────────────────────

type rawCodec struct{}

func (rawCodec) Tag() Tag { return TagRaw }

// Encode passes the value through unchanged.
func (rawCodec) Encode(value any) (any, error) {
	return value, nil
}

// Decode passes wire data through, normalising byte slices to strings
// so push transports deliver text rather than opaque bytes.
func (rawCodec) Decode(data any) (any, error) {
	if b, ok := data.([]byte); ok {
		return string(b), nil
	}
	return data, nil
}

// ─────────────────────────────────────────────────────────────────────
// Text
// ─────────────────────────────────────────────────────────────────────

type textCodec struct{}

func (textCodec) Tag() Tag { return TagText }

func (textCodec) Encode(value any) (any, error) {
	return Stringify(value), nil
}

func (textCodec) Decode(data any) (any, error) {
	return Stringify(data), nil
}

// ─────────────────────────────────────────────────────────────────────
// Number
// ─────────────────────────────────────────────────────────────────────

type numberCodec struct{}

func (numberCodec) Tag() Tag { return TagNumber }

// Encode renders a numeric value as a canonical decimal string
// ("42", "21.5"). Numeric strings are accepted and re-canonicalised.
func (numberCodec) Encode(value any) (any, error) {
	f, err := Number(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// Decode parses wire data as float64.
func (numberCodec) Decode(data any) (any, error) {
	f, err := Number(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodingFailed, err)
	}
	return f, nil
}

// ─────────────────────────────────────────────────────────────────────
// Bool
// ─────────────────────────────────────────────────────────────────────

type boolCodec struct{}

func (boolCodec) Tag() Tag { return TagBool }

// Encode renders a truth value as "true"/"false".
func (boolCodec) Encode(value any) (any, error) {
	b, err := Truth(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	return strconv.FormatBool(b), nil
}

// Decode parses wire data as bool. Accepts true/false, on/off,
// yes/no and numeric forms (non-zero is true).
func (boolCodec) Decode(data any) (any, error) {
	b, err := Truth(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodingFailed, err)
	}
	return b, nil
}

// ─────────────────────────────────────────────────────────────────────
// JSON
// ─────────────────────────────────────────────────────────────────────

type jsonCodec struct{}

func (jsonCodec) Tag() Tag { return TagJSON }

// Encode marshals the platform value to a JSON document string.
func (jsonCodec) Encode(value any) (any, error) {
	out, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	return string(out), nil
}

// Decode unmarshals JSON text into maps/slices/scalars. Values that
// are already structured (a fragment extracted from a larger reply)
// pass through unchanged.
func (jsonCodec) Decode(data any) (any, error) {
	switch v := data.(type) {
	case []byte:
		return unmarshalAny(v)
	case string:
		return unmarshalAny([]byte(v))
	default:
		return v, nil
	}
}

func unmarshalAny(raw []byte) (any, error) {
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrDecodingFailed, err)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────
// Coercion helpers
// ─────────────────────────────────────────────────────────────────────

// Stringify renders any value as a string. Byte slices become text
// directly; everything else goes through fmt.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Number coerces a value to float64.
//
// Accepts Go numeric types, numeric strings and byte slices
// (whitespace-trimmed). Everything else is an error.
func Number(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case string:
		return parseFloat(v)
	case []byte:
		return parseFloat(string(v))
	default:
		return 0, fmt.Errorf("value %v (%T) is not numeric", value, value)
	}
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not numeric", s)
	}
	return f, nil
}

// Truth coerces a value to bool.
//
// Accepts bools, numbers (non-zero is true) and the textual forms
// true/false, on/off, yes/no, 1/0 (case-insensitive, trimmed).
func Truth(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return parseTruth(v)
	case []byte:
		return parseTruth(string(v))
	}

	if f, err := Number(value); err == nil {
		return f != 0, nil
	}
	return false, fmt.Errorf("value %v (%T) is not a truth value", value, value)
}

func parseTruth(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on", "yes", "1":
		return true, nil
	case "false", "off", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("value %q is not a truth value", s)
}
