// Package wire converts fields between host byte order and the protocol's
// fixed wire order (big-endian), and provides bounds-checked cursors used by
// every payload codec.
package wire

import (
	"encoding/binary"
	"math"
	"math/bits"
	"unsafe"
)

// Order is the byte order of every multi-byte field on the wire.
var Order = binary.BigEndian

// Direction selects which way Normalize converts.
type Direction uint8

const (
	ToWire Direction = iota
	ToHost
)

func (d Direction) String() string {
	if d == ToHost {
		return "to-host"
	}
	return "to-wire"
}

// Integer is the closed set of size classes (1, 2, 4 and 8 bytes) that can be
// normalized. Instantiating Normalize with any other type does not compile.
type Integer interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64
}

// Float is swapped at its integer-equivalent width.
type Float interface {
	~float32 | ~float64
}

var hostBigEndian = func() bool {
	var probe [2]byte
	binary.NativeEndian.PutUint16(probe[:], 0x0102)
	return probe[0] == 0x01
}()

// HostIsBigEndian reports whether the running machine stores integers
// most-significant byte first.
func HostIsBigEndian() bool { return hostBigEndian }

// WireIsHost reports whether wire order equals host order, in which case whole
// payload copies need no swapping.
func WireIsHost() bool { return hostBigEndian }

// Normalize converts v between host and wire order. The conversion is its own
// inverse, so the direction only documents intent at the call site. One-byte values are
// returned unchanged.
func Normalize[T Integer](v T, _ Direction) T {
	if WireIsHost() {
		return v
	}
	return swapInt(v)
}

// NormalizeFloat converts a float field without reinterpreting its bit
// pattern: the IEEE bits are swapped as a 32 or 64-bit integer. Like
// Normalize, both directions perform the same swap.
func NormalizeFloat[T Float](v T, _ Direction) T {
	if WireIsHost() {
		return v
	}
	return swapFloat(v)
}

func swapInt[T Integer](v T) T {
	switch unsafe.Sizeof(v) {
	case 2:
		return T(bits.ReverseBytes16(uint16(v)))
	case 4:
		return T(bits.ReverseBytes32(uint32(v)))
	case 8:
		return T(bits.ReverseBytes64(uint64(v)))
	}
	return v
}

func swapFloat[T Float](v T) T {
	if unsafe.Sizeof(v) == 4 {
		return T(math.Float32frombits(bits.ReverseBytes32(math.Float32bits(float32(v)))))
	}
	return T(math.Float64frombits(bits.ReverseBytes64(math.Float64bits(float64(v)))))
}

// NormalizePayload swaps a packed array of size-byte elements in place. It is a
// no-op for size 1 or when wire order equals host order. Trailing bytes that do
// not fill a whole element are left untouched.
func NormalizePayload(b []byte, size int) {
	if size <= 1 || WireIsHost() {
		return
	}
	switch size {
	case 2, 4, 8:
	default:
		panic("wire: unsupported element size")
	}
	for i := 0; i+size <= len(b); i += size {
		elem := b[i : i+size]
		for l, r := 0, size-1; l < r; l, r = l+1, r-1 {
			elem[l], elem[r] = elem[r], elem[l]
		}
	}
}
