package packet

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestMagicAtSameOffset(t *testing.T) {
	a, err := BuildA(TagAsterixCat048, []byte{1, 2})
	if err != nil {
		t.Fatalf("BuildA: %v", err)
	}
	b := BuildB(TagTrackExt, time.Unix(10, 0), nil)
	if !bytes.Equal(a[:1], b[:1]) || a[1] == b[1] {
		t.Fatalf("magics: A % x, B % x", a[:2], b[:2])
	}
	if MagicA == MagicB {
		t.Fatalf("magics must differ")
	}
}

func TestPeekKind(t *testing.T) {
	a, _ := BuildA(TagNMEA183, []byte("$GP"))
	b := BuildB(TagHeartbeat, time.Time{}, []byte{0})
	tests := []struct {
		name string
		buf  []byte
		want Kind
	}{
		{"header A", a, KindA},
		{"header B", b, KindB},
		{"empty", nil, KindIncomplete},
		{"one byte", []byte{'C'}, KindIncomplete},
		{"random", []byte{0x5A, 0x17, 0, 0}, KindUnrecognized},
		{"byte swapped B", []byte{'B', 'C', 0, 0}, KindUnrecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := append([]byte(nil), tt.buf...)
			if got := PeekKind(tt.buf); got != tt.want {
				t.Fatalf("PeekKind = %s, want %s", got, tt.want)
			}
			if got := PeekKind(tt.buf); got != tt.want {
				t.Fatalf("second PeekKind = %s, want %s", got, tt.want)
			}
			if !bytes.Equal(before, tt.buf) {
				t.Fatalf("PeekKind modified the buffer")
			}
		})
	}
}

func TestPeekKindRandomValues(t *testing.T) {
	for v := 0; v <= 0xFFFF; v += 0x0101 {
		buf := []byte{byte(v >> 8), byte(v)}
		if uint16(v) == MagicA || uint16(v) == MagicB {
			continue
		}
		if got := PeekKind(buf); got != KindUnrecognized {
			t.Fatalf("PeekKind(%#04x) = %s, want unrecognized", v, got)
		}
	}
}

func TestDecodeHeaderB(t *testing.T) {
	ts := time.Unix(1_700_000_000, 123_456_000)
	pkt := BuildB(TagTrackMin, ts, make([]byte, 56))
	if len(pkt) != 72 {
		t.Fatalf("len = %d", len(pkt))
	}
	h1, err := DecodeHeader(pkt)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	h2, err := DecodeHeader(pkt)
	if err != nil {
		t.Fatalf("DecodeHeader again: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("decode not idempotent: %+v vs %+v", h1, h2)
	}
	if h1.Kind != KindB || h1.Tag != TagTrackMin || h1.Size != uint32(len(pkt)) {
		t.Fatalf("header = %+v", h1)
	}
	if h1.Secs != 1_700_000_000 || h1.Usecs != 123_456 {
		t.Fatalf("time = %d.%06d", h1.Secs, h1.Usecs)
	}
	if !h1.Time().Equal(ts) {
		t.Fatalf("Time() = %v, want %v", h1.Time(), ts)
	}
	if h1.PayloadOffset() != HeaderBSize || h1.PayloadLen() != 56 {
		t.Fatalf("payload offset/len = %d/%d", h1.PayloadOffset(), h1.PayloadLen())
	}
	// wire order is big-endian
	if pkt[4] != 0 || pkt[7] != byte(len(pkt)) {
		t.Fatalf("size bytes = % x", pkt[4:8])
	}
}

func TestDecodeHeaderA(t *testing.T) {
	pkt, err := BuildA(TagAsterixCat240SPF1, []byte{9, 8, 7})
	if err != nil {
		t.Fatalf("BuildA: %v", err)
	}
	h, payload, err := Frame(pkt)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if h.Kind != KindA || h.Tag != TagAsterixCat240SPF1 || h.Size != 7 || h.HasTime() {
		t.Fatalf("header = %+v", h)
	}
	if !bytes.Equal(payload, []byte{9, 8, 7}) {
		t.Fatalf("payload = % x", payload)
	}
}

func TestDecodeHeaderErrors(t *testing.T) {
	full := BuildB(TagJSON, time.Unix(1, 0), []byte("{}"))
	tooSmall := BuildB(TagJSON, time.Unix(1, 0), nil)
	tooSmall[7] = 3

	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{"empty", nil, ErrIncomplete},
		{"partial B", full[:10], ErrIncomplete},
		{"partial A", []byte{'C', 'A', 48}, ErrIncomplete},
		{"bad magic", []byte{0xDE, 0xAD, 0, 0, 0, 0}, ErrCorrupt},
		{"size below header", tooSmall, ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeHeader(tt.buf)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, _, err := Frame(full[:len(full)-1]); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("Frame(short) err = %v, want ErrIncomplete", err)
	}
}

func TestBuildALimits(t *testing.T) {
	if _, err := BuildA(TagAsterixCat048, make([]byte, MaxPayloadA)); err != nil {
		t.Fatalf("BuildA at limit: %v", err)
	}
	if _, err := BuildA(TagAsterixCat048, make([]byte, MaxPayloadA+1)); err == nil {
		t.Fatalf("BuildA over limit succeeded")
	}
	if _, err := BuildA(TagTrackExt, nil); err == nil {
		t.Fatalf("BuildA with a header B tag succeeded")
	}
}

func TestRegistry(t *testing.T) {
	s, ok := Lookup(TagTrackNorm)
	if !ok || s.Name != "TRACK_NORM" || s.PayloadSize != 112 || s.Header() != KindB {
		t.Fatalf("Lookup(TRACK_NORM) = %+v, %v", s, ok)
	}
	if m, ok := Lookup(TagTrackMin); !ok || m.PayloadSize != 56 {
		t.Fatalf("Lookup(TRACK_MIN) = %+v, %v", m, ok)
	}
	if !Known(KindA, TagAsterixCat048) || Known(KindB, TagAsterixCat048) {
		t.Fatalf("CAT048 namespace wrong")
	}
	// identical re-registration is fine
	Register(s)

	defer func() {
		if recover() == nil {
			t.Fatalf("conflicting registration did not panic")
		}
	}()
	Register(Shape{Tag: TagTrackNorm, Name: "SOMETHING_ELSE"})
}

func TestRegistryNamespaces(t *testing.T) {
	for _, s := range Shapes() {
		if s.Tag <= 0xFF && s.Header() != KindA {
			t.Fatalf("%s in A range but not header A", s.Name)
		}
		if s.Tag > 0xFF && s.Header() != KindB {
			t.Fatalf("%s in B range but not header B", s.Name)
		}
	}
}

func TestNextMagic(t *testing.T) {
	good := BuildB(TagHeartbeat, time.Unix(5, 0), []byte{1, 2, 3, 4})
	var buf []byte
	buf = append(buf, 0x00, 'C', 'B', 0xFF, 0xFF) // magic with unregistered tag
	buf = append(buf, 'X', 'C')
	start := len(buf)
	buf = append(buf, good...)

	if got := NextMagic(buf, 0); got != start {
		t.Fatalf("NextMagic = %d, want %d", got, start)
	}
	if got := NextMagic(buf, start+1); got != -1 {
		t.Fatalf("NextMagic after packet = %d, want -1", got)
	}
	if got := NextMagic(good[:5], 0); got != 0 {
		t.Fatalf("NextMagic on partial header = %d, want 0", got)
	}
}

func TestDecodeErrorOffset(t *testing.T) {
	err := Errorf("decode", 12, ErrTruncated, "block %d", 3)
	err = WithBase(err, 100)
	off, ok := OffsetOf(err)
	if !ok || off != 112 {
		t.Fatalf("OffsetOf = %d, %v", off, ok)
	}
	if !errors.Is(err, ErrTruncated) || !IsRecoverable(err) {
		t.Fatalf("err = %v", err)
	}
	if IsRecoverable(ErrIncomplete) {
		t.Fatalf("incomplete is a read-more signal, not a resync")
	}
}
