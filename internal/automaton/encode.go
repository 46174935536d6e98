package automaton

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode"
)

// Serialized layout, all integers in the host byte order:
//
//	magic     [4]byte  "RXDA"
//	byteOrder uint32   0x01020304
//	version   uint16
//	reserved  uint16
//	numStates uint32
//	start     int32
//	states    numStates x { flags uint8, numTrans uint32, numTrans x { lo, hi uint32, next int32 } }
const (
	formatVersion  uint16 = 1
	byteOrderMark  uint32 = 0x01020304
	swappedMark    uint32 = 0x04030201
	headerSize            = 4 + 4 + 2 + 2 + 4 + 4
	transitionSize        = 12

	flagAccept      = 1 << 0
	flagAcceptAtEnd = 1 << 1
)

var magic = [4]byte{'R', 'X', 'D', 'A'}

var (
	// ErrByteOrder is returned when bytes were written on a host of the other endianness.
	ErrByteOrder = errors.New("automaton bytes were written with a different byte order")
	// ErrCorrupt is returned for bytes that do not decode to a valid automaton.
	ErrCorrupt = errors.New("corrupt automaton bytes")
)

var native = binary.NativeEndian

// MarshalBinary implements encoding.BinaryMarshaler.
func (d *DFA) MarshalBinary() ([]byte, error) {
	size := headerSize
	for i := range d.states {
		size += 1 + 4 + transitionSize*len(d.states[i].trans)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, magic[:]...)
	buf = native.AppendUint32(buf, byteOrderMark)
	buf = native.AppendUint16(buf, formatVersion)
	buf = native.AppendUint16(buf, 0)
	buf = native.AppendUint32(buf, uint32(len(d.states)))
	buf = native.AppendUint32(buf, uint32(d.start))

	for i := range d.states {
		st := &d.states[i]
		var flags byte
		if st.accept {
			flags |= flagAccept
		}
		if st.acceptAtEnd {
			flags |= flagAcceptAtEnd
		}
		buf = append(buf, flags)
		buf = native.AppendUint32(buf, uint32(len(st.trans)))
		for _, t := range st.trans {
			buf = native.AppendUint32(buf, uint32(t.lo))
			buf = native.AppendUint32(buf, uint32(t.hi))
			buf = native.AppendUint32(buf, uint32(t.next))
		}
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (d *DFA) UnmarshalBinary(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(data))
	}
	if [4]byte(data[:4]) != magic {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	switch native.Uint32(data[4:]) {
	case byteOrderMark:
	case swappedMark:
		return ErrByteOrder
	default:
		return fmt.Errorf("%w: bad byte order mark", ErrCorrupt)
	}
	if v := native.Uint16(data[8:]); v != formatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, v)
	}
	numStates := native.Uint32(data[12:])
	start := int32(native.Uint32(data[16:]))

	// each state needs at least five bytes
	if uint64(numStates)*5 > uint64(len(data)-headerSize) {
		return fmt.Errorf("%w: %d states do not fit in %d bytes", ErrCorrupt, numStates, len(data))
	}
	if start != dead && (start < 0 || uint32(start) >= numStates) {
		return fmt.Errorf("%w: start state %d out of range", ErrCorrupt, start)
	}

	states := make([]state, numStates)
	off := headerSize
	for i := range states {
		if len(data)-off < 5 {
			return fmt.Errorf("%w: truncated state %d", ErrCorrupt, i)
		}
		flags := data[off]
		n := native.Uint32(data[off+1:])
		off += 5
		if uint64(n)*transitionSize > uint64(len(data)-off) {
			return fmt.Errorf("%w: truncated transitions of state %d", ErrCorrupt, i)
		}

		st := state{
			accept:      flags&flagAccept != 0,
			acceptAtEnd: flags&flagAcceptAtEnd != 0,
			trans:       make([]transition, n),
		}
		prevHi := rune(-1)
		for j := range st.trans {
			t := transition{
				lo:   rune(native.Uint32(data[off:])),
				hi:   rune(native.Uint32(data[off+4:])),
				next: int32(native.Uint32(data[off+8:])),
			}
			off += transitionSize
			if t.lo <= prevHi || t.lo > t.hi || t.hi > unicode.MaxRune {
				return fmt.Errorf("%w: bad range in state %d", ErrCorrupt, i)
			}
			if t.next != dead && (t.next < 0 || uint32(t.next) >= numStates) {
				return fmt.Errorf("%w: transition target %d out of range", ErrCorrupt, t.next)
			}
			prevHi = t.hi
			st.trans[j] = t
		}
		states[i] = st
	}
	if off != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(data)-off)
	}

	d.states = states
	d.start = start
	return nil
}

// Load decodes an automaton produced by MarshalBinary.
func Load(data []byte) (*DFA, error) {
	d := &DFA{}
	if err := d.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return d, nil
}
