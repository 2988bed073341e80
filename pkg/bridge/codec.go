package bridge

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/matzehuels/umlpipe/pkg/errors"
)

// HexPrefix marks a hex-encoded payload segment.
const HexPrefix = "~h"

// Encode returns the path segment carrying text: HexPrefix followed by the
// lowercase hex of its UTF-8 bytes.
func Encode(text string) string {
	return HexPrefix + hex.EncodeToString([]byte(text))
}

// Decode reverses Encode. A missing prefix, malformed hex or invalid UTF-8
// fails with DECODE_ERROR.
func Decode(segment string) (string, error) {
	payload, ok := strings.CutPrefix(segment, HexPrefix)
	if !ok {
		return "", errors.New(errors.ErrCodeDecode, "payload segment must start with %q", HexPrefix)
	}
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeDecode, err, "decode hex payload")
	}
	if !utf8.Valid(raw) {
		return "", errors.New(errors.ErrCodeDecode, "payload is not valid UTF-8")
	}
	return string(raw), nil
}
