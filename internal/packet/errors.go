package packet

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete means more bytes are needed. It is a signal to the
	// reading loop, not a failure.
	ErrIncomplete = errors.New("packet: incomplete")
	// ErrCorrupt means the stream position is no longer trustworthy:
	// unrecognized magic or an impossible size.
	ErrCorrupt = errors.New("packet: corrupt")
	// ErrTruncated means a declared size runs past the available bytes
	// inside one message.
	ErrTruncated = errors.New("packet: truncated")
	// ErrSizeMismatch means a self-reported total disagrees with the sum of
	// the decoded parts.
	ErrSizeMismatch = errors.New("packet: size mismatch")
	// ErrUnknownFeatureBit means a feature mask has a bit newer than the
	// decoder's block size table.
	ErrUnknownFeatureBit = errors.New("packet: unknown feature bit")
	// ErrPartiallyUnderstood accompanies a result that holds only the blocks
	// the decoder recognized plus the raw remaining tail.
	ErrPartiallyUnderstood = errors.New("packet: partially understood")
)

// DecodeError ties a failure to the byte offset where it was detected.
type DecodeError struct {
	Op     string
	Offset int64
	Err    error
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s at offset %d: %v: %s", e.Op, e.Offset, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Errorf builds a DecodeError around one of the sentinel errors.
func Errorf(op string, offset int64, sentinel error, format string, args ...any) error {
	return &DecodeError{Op: op, Offset: offset, Err: sentinel, Detail: fmt.Sprintf(format, args...)}
}

// OffsetOf reports the offset recorded in err, if any.
func OffsetOf(err error) (int64, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Offset, true
	}
	return 0, false
}

// WithBase shifts the offset of a DecodeError by base, used when a payload
// decoder's error is reported relative to the enclosing file or packet.
func WithBase(err error, base int64) error {
	var de *DecodeError
	if !errors.As(err, &de) {
		return err
	}
	shifted := *de
	shifted.Offset += base
	return &shifted
}

// IsRecoverable reports whether a reader loop should resynchronize and carry on
// rather than abort.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrCorrupt) || errors.Is(err, ErrTruncated) || errors.Is(err, ErrSizeMismatch)
}
