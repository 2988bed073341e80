package errors

import (
	"bytes"
	"unicode/utf8"
)

// MaxSourceBytes bounds the size of a single diagram source accepted for rendering.
const MaxSourceBytes = 1 << 20

// ValidateSource checks that diagram source text can be written to the
// engine's input stream.
//
// The checks are intentionally shallow; the engine owns the grammar:
//   - Valid UTF-8
//   - No NUL bytes
//   - At most MaxSourceBytes
func ValidateSource(source string) error {
	if len(source) > MaxSourceBytes {
		return New(ErrCodeInvalidInput, "source too large (max %d bytes)", MaxSourceBytes)
	}
	if !utf8.ValidString(source) {
		return New(ErrCodeInvalidInput, "source is not valid UTF-8")
	}
	if bytes.IndexByte([]byte(source), 0) >= 0 {
		return New(ErrCodeInvalidInput, "source contains NUL bytes")
	}
	return nil
}

// ValidatePort validates a TCP port number.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return New(ErrCodeInvalidInput, "port %d out of range (1-65535)", port)
	}
	return nil
}

// ValidatePortRange validates an inclusive port range for automatic binding.
func ValidatePortRange(start, end int) error {
	if err := ValidatePort(start); err != nil {
		return err
	}
	if err := ValidatePort(end); err != nil {
		return err
	}
	if start > end {
		return New(ErrCodeInvalidInput, "port range %d-%d is empty", start, end)
	}
	return nil
}
