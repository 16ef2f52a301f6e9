package packet

import "errors"

// NextMagic returns the index of the first plausible header at or after from,
// or -1. A candidate is plausible when its magic matches, its size is at least
// its header size and its tag is registered for that header shape. A magic too
// close to the end of buf to be checked is returned as well, so the caller can
// read more and try again.
func NextMagic(buf []byte, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i+1 < len(buf); i++ {
		if buf[i] != 'C' || (buf[i+1] != 'A' && buf[i+1] != 'B') {
			continue
		}
		h, err := DecodeHeader(buf[i:])
		if err != nil {
			if errors.Is(err, ErrIncomplete) {
				return i
			}
			continue
		}
		if Plausible(h, 0) {
			return i
		}
	}
	return -1
}

// Plausible reports whether h looks like a real header rather than magic
// bytes occurring inside a payload. maxSize bounds the total size when
// positive.
func Plausible(h Header, maxSize int64) bool {
	if !Known(h.Kind, h.Tag) {
		return false
	}
	if int(h.Size) < h.PayloadOffset() {
		return false
	}
	if s, ok := Lookup(h.Tag); ok && s.PayloadSize > 0 && h.PayloadLen() != s.PayloadSize {
		return false
	}
	return maxSize <= 0 || int64(h.Size) <= maxSize
}
