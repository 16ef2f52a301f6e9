package variant

import (
	"bytes"
	"errors"
	"testing"

	"example.com/radarwire/internal/packet"
)

var testSchema = Schema{
	Name:     "test",
	BaseSize: 6,
	Sizes: SizeTable{
		0:  2,
		1:  4,
		3:  1,
		7:  8,
		31: 0,
	},
}

func fill(n int, v byte) []byte { return bytes.Repeat([]byte{v}, n) }

func TestRoundTrip(t *testing.T) {
	base := []byte{1, 2, 3, 4, 5, 6}
	combos := []map[Bit][]byte{
		{},
		{0: fill(2, 0xA0)},
		{1: fill(4, 0xB1), 7: fill(8, 0xC7)},
		{0: fill(2, 0xA0), 1: fill(4, 0xB1), 3: fill(1, 0xD3), 7: fill(8, 0xC7), 31: nil},
		{31: nil},
	}
	for _, blocks := range combos {
		enc, err := Encode(testSchema, base, blocks)
		if err != nil {
			t.Fatalf("Encode(%v): %v", SortedBits(blocks), err)
		}
		var mask uint32
		for b := range blocks {
			mask |= b.Mask()
		}
		want, _ := testSchema.EncodedSize(mask)
		if len(enc) != want {
			t.Fatalf("len = %d, want %d", len(enc), want)
		}
		msg, err := Decode(testSchema, enc)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !bytes.Equal(msg.Base, base) || msg.Mask != mask {
			t.Fatalf("base/mask = % x / %#x", msg.Base, msg.Mask)
		}
		if len(msg.Bits()) != len(blocks) {
			t.Fatalf("bits = %v, want %v", msg.Bits(), SortedBits(blocks))
		}
		for b, data := range blocks {
			got, ok := msg.Block(b)
			if !ok || !bytes.Equal(got, data) {
				t.Fatalf("block %d = % x (%v), want % x", b, got, ok, data)
			}
		}
	}
}

func TestBlocksFollowBitOrder(t *testing.T) {
	base := make([]byte, 6)
	enc, err := Encode(testSchema, base, map[Bit][]byte{7: fill(8, 7), 0: fill(2, 0), 3: {3}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := append(append(append(append([]byte{}, base...), 0, 0, 0, 0x89), fill(2, 0)...), 3)
	want = append(want, fill(8, 7)...)
	if !bytes.Equal(enc, want) {
		t.Fatalf("encoded = % x\nwant      % x", enc, want)
	}
	msg, err := Decode(testSchema, enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	bitsOut := msg.Bits()
	if len(bitsOut) != 3 || bitsOut[0] != 0 || bitsOut[1] != 3 || bitsOut[2] != 7 {
		t.Fatalf("Bits = %v", bitsOut)
	}
	if off, _ := msg.Offset(7); off != 6+4+2+1 {
		t.Fatalf("offset of bit 7 = %d", off)
	}
}

func TestAbsentBlockIsNotAnError(t *testing.T) {
	enc, _ := Encode(testSchema, make([]byte, 6), map[Bit][]byte{1: fill(4, 1)})
	msg, err := Decode(testSchema, enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := msg.Block(7); ok || msg.Has(7) {
		t.Fatalf("bit 7 reported present")
	}
}

func TestDecodeTruncated(t *testing.T) {
	enc, _ := Encode(testSchema, make([]byte, 6), map[Bit][]byte{0: fill(2, 1), 7: fill(8, 2)})
	for cut := 1; cut <= len(enc); cut++ {
		_, err := Decode(testSchema, enc[:len(enc)-cut])
		if !errors.Is(err, packet.ErrTruncated) {
			t.Fatalf("cut %d: err = %v, want ErrTruncated", cut, err)
		}
	}
}

func TestDecodeSizeMismatch(t *testing.T) {
	enc, _ := Encode(testSchema, make([]byte, 6), map[Bit][]byte{1: fill(4, 1)})
	enc = append(enc, 0xEE)
	_, err := Decode(testSchema, enc)
	if !errors.Is(err, packet.ErrSizeMismatch) {
		t.Fatalf("err = %v, want ErrSizeMismatch", err)
	}
	if off, ok := packet.OffsetOf(err); !ok || off != int64(len(enc)-1) {
		t.Fatalf("offset = %d, %v", off, ok)
	}
}

// A decoder cannot step over a set bit it has no size for: blocks carry no
// length prefix. Decoding stops there and hands back the tail.
func TestUnknownBitStopsDecoding(t *testing.T) {
	newer := testSchema.With(4, 3)
	enc, err := Encode(newer, make([]byte, 6), map[Bit][]byte{0: fill(2, 0xA), 4: fill(3, 0xF), 7: fill(8, 0xC)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	msg, err := Decode(testSchema, enc)
	if !errors.Is(err, packet.ErrPartiallyUnderstood) || !errors.Is(err, packet.ErrUnknownFeatureBit) {
		t.Fatalf("err = %v, want partially understood", err)
	}
	if msg == nil || !msg.Partial || msg.Unknown != 4 {
		t.Fatalf("msg = %+v", msg)
	}
	if _, ok := msg.Block(0); !ok {
		t.Fatalf("block 0 decoded before the unknown bit is missing")
	}
	if _, ok := msg.Block(7); ok {
		t.Fatalf("block 7 after the unknown bit must not be guessed")
	}
	if !msg.Has(7) {
		t.Fatalf("mask lost bit 7")
	}
	wantTail := append(fill(3, 0xF), fill(8, 0xC)...)
	if !bytes.Equal(msg.Tail, wantTail) {
		t.Fatalf("tail = % x, want % x", msg.Tail, wantTail)
	}

	// With the size known from a side channel the whole message decodes.
	full, err := Decode(testSchema.With(4, 3), enc)
	if err != nil {
		t.Fatalf("Decode with side-channel size: %v", err)
	}
	if b, ok := full.Block(7); !ok || !bytes.Equal(b, fill(8, 0xC)) {
		t.Fatalf("block 7 = % x, %v", b, ok)
	}
}

func TestEncodeRejects(t *testing.T) {
	base := make([]byte, 6)
	if _, err := Encode(testSchema, base[:5], nil); err == nil {
		t.Fatalf("short base accepted")
	}
	if _, err := Encode(testSchema, base, map[Bit][]byte{2: {1}}); !errors.Is(err, packet.ErrUnknownFeatureBit) {
		t.Fatalf("unknown bit err = %v", err)
	}
	if _, err := Encode(testSchema, base, map[Bit][]byte{1: {1, 2}}); err == nil {
		t.Fatalf("wrong block size accepted")
	}
	if _, err := Encode(testSchema, base, map[Bit][]byte{40: nil}); err == nil {
		t.Fatalf("bit out of range accepted")
	}
}

func TestSizeTableSum(t *testing.T) {
	n, ok := testSchema.Sizes.Sum(0x8000008B)
	if !ok || n != 2+4+1+8 {
		t.Fatalf("Sum = %d, %v", n, ok)
	}
	if _, ok := testSchema.Sizes.Sum(1 << 5); ok {
		t.Fatalf("Sum with unknown bit reported ok")
	}
	ext := testSchema.Sizes.Extend(SizeTable{5: 9})
	if _, ok := testSchema.Sizes[5]; ok {
		t.Fatalf("Extend modified the original table")
	}
	if ext[5] != 9 {
		t.Fatalf("Extend lost entry")
	}
}
