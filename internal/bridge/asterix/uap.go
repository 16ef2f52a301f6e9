// Package asterix bridges CAT048 target reports and Extended track reports.
//
// A data block is CAT u8 | LEN u16 | records. Each record opens with an FSPEC
// whose bits select data items in UAP order; seven item bits per octet, the
// low bit of each octet extends it.
package asterix

import (
	"errors"
	"fmt"

	"example.com/radarwire/internal/packet"
	"example.com/radarwire/internal/wire"
)

// Category is the only category this package reads and writes.
const Category = 48

var (
	// ErrCategory is a data block of another category.
	ErrCategory = errors.New("asterix: unexpected category")
	// ErrUnsupportedItem is an FSPEC bit whose item length cannot be
	// determined, which ends decoding of the block.
	ErrUnsupportedItem = errors.New("asterix: unsupported data item")
)

type itemKind uint8

const (
	fixed itemKind = iota
	extended
	repetitive
	compound
	explicit
)

type item struct {
	name string
	kind itemKind
	size int
	// subfields of a compound item; a negative size is a repetitive
	// subfield of that many bytes per repetition.
	subfields []int
}

// uap048 is indexed by FRN - 1.
var uap048 = []item{
	{name: "I048/010", kind: fixed, size: 2},
	{name: "I048/140", kind: fixed, size: 3},
	{name: "I048/020", kind: extended, size: 1},
	{name: "I048/040", kind: fixed, size: 4},
	{name: "I048/070", kind: fixed, size: 2},
	{name: "I048/090", kind: fixed, size: 2},
	{name: "I048/130", kind: compound, subfields: []int{1, 1, 1, 1, 1, 1, 1}},
	{name: "I048/220", kind: fixed, size: 3},
	{name: "I048/240", kind: fixed, size: 6},
	{name: "I048/250", kind: repetitive, size: 8},
	{name: "I048/161", kind: fixed, size: 2},
	{name: "I048/042", kind: fixed, size: 4},
	{name: "I048/200", kind: fixed, size: 4},
	{name: "I048/170", kind: extended, size: 1},
	{name: "I048/210", kind: fixed, size: 4},
	{name: "I048/030", kind: extended, size: 1},
	{name: "I048/080", kind: fixed, size: 2},
	{name: "I048/100", kind: fixed, size: 4},
	{name: "I048/110", kind: fixed, size: 2},
	{name: "I048/120", kind: compound, subfields: []int{2, -6}},
	{name: "I048/230", kind: fixed, size: 2},
	{name: "I048/260", kind: fixed, size: 7},
	{name: "I048/055", kind: fixed, size: 1},
	{name: "I048/050", kind: fixed, size: 2},
	{name: "I048/065", kind: fixed, size: 1},
	{name: "I048/060", kind: fixed, size: 2},
	{name: "I048/SP", kind: explicit},
	{name: "I048/RE", kind: explicit},
}

// Field reference numbers of the items this package maps.
const (
	frnSource      = 1
	frnTimeOfDay   = 2
	frnDescriptor  = 3
	frnPolar       = 4
	frnMode3A      = 5
	frnFlightLevel = 6
	frnAddress     = 8
	frnIdent       = 9
	frnTrackNumber = 11
	frnVelocity    = 13
	frnStatus      = 14
)

// readFSPEC returns the FRNs set in the FSPEC at the reader, ascending.
func readFSPEC(r *wire.Reader) ([]int, error) {
	var frns []int
	for octet := 0; ; octet++ {
		b := r.U8()
		if err := r.Err(); err != nil {
			return nil, packet.Errorf("fspec", int64(r.Offset()), packet.ErrTruncated, "%v", err)
		}
		for j := 0; j < 7; j++ {
			if b&(0x80>>j) != 0 {
				frns = append(frns, octet*7+j+1)
			}
		}
		if b&0x01 == 0 {
			return frns, nil
		}
	}
}

func appendFSPEC(w *wire.Writer, frns []int) {
	last := 0
	for _, f := range frns {
		if f > last {
			last = f
		}
	}
	if last == 0 {
		w.U8(0)
		return
	}
	octets := make([]byte, (last+6)/7)
	for _, f := range frns {
		octets[(f-1)/7] |= 0x80 >> ((f - 1) % 7)
	}
	for i := 0; i < len(octets)-1; i++ {
		octets[i] |= 0x01
	}
	w.Raw(octets)
}

// readItem returns the raw bytes of the item for frn. r reads buf.
func readItem(r *wire.Reader, buf []byte, frn int) ([]byte, error) {
	if frn < 1 || frn > len(uap048) {
		return nil, fmt.Errorf("%w: FRN %d", ErrUnsupportedItem, frn)
	}
	it := uap048[frn-1]
	start := r.Offset()
	switch it.kind {
	case fixed:
		r.Skip(it.size)
	case extended:
		skipExtended(r)
	case repetitive:
		n := int(r.U8())
		r.Skip(n * it.size)
	case explicit:
		n := int(r.U8())
		if r.Err() == nil && n < 1 {
			return nil, packet.Errorf(it.name, int64(start), packet.ErrCorrupt, "explicit length %d", n)
		}
		r.Skip(n - 1)
	case compound:
		primary := readExtended(r)
		k := 0
		for _, b := range primary {
			for j := 0; j < 7; j++ {
				if b&(0x80>>j) != 0 {
					if k >= len(it.subfields) {
						return nil, fmt.Errorf("%w: %s subfield %d", ErrUnsupportedItem, it.name, k+1)
					}
					if sz := it.subfields[k]; sz < 0 {
						r.Skip(int(r.U8()) * -sz)
					} else {
						r.Skip(sz)
					}
				}
				k++
			}
		}
	}
	if err := r.Err(); err != nil {
		return nil, packet.Errorf(it.name, int64(start), packet.ErrTruncated, "%v", err)
	}
	return buf[start:r.Offset()], nil
}

func readExtended(r *wire.Reader) []byte {
	var out []byte
	for {
		b := r.U8()
		if r.Err() != nil {
			return out
		}
		out = append(out, b)
		if b&0x01 == 0 {
			return out
		}
	}
}

func skipExtended(r *wire.Reader) { readExtended(r) }
