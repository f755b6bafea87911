package codec

import "errors"

// Domain errors for the codec package.
var (
	// ErrEncodingFailed is returned when a platform value cannot be
	// encoded to its wire representation.
	ErrEncodingFailed = errors.New("codec: encoding failed")

	// ErrDecodingFailed is returned when wire data cannot be decoded
	// to a platform value.
	ErrDecodingFailed = errors.New("codec: decoding failed")
)
