package engine

import "bytes"

// ExtractFrame returns the first complete frame in buf, ending with and
// including marker, and the bytes that follow it. ok is false when buf holds
// no complete frame; callers keep accumulating output and call again.
//
// A single read can carry several frames, so callers loop until ok is false.
func ExtractFrame(buf, marker []byte) (frame, rest []byte, ok bool) {
	if len(marker) == 0 {
		return nil, buf, false
	}
	i := bytes.Index(buf, marker)
	if i < 0 {
		return nil, buf, false
	}
	end := i + len(marker)
	return buf[:end], buf[end:], true
}
