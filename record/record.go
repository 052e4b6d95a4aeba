// Package record encodes and walks test content records.
//
// A record has the layout of an ELF note:
//
//	namesz   int32
//	descsz   int32
//	type     int32
//	name     [namesz]byte, padded to 4 bytes
//	desc     [descsz]byte
//
// followed by padding up to the next 8 byte boundary. The name of every record
// is ProducerTag. The desc of a record holds an accessor token, flags and a
// reserved word. All integers use the native byte order.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderSize  = 12
	PayloadSize = 16

	nameAlign   = 4
	recordAlign = 8
)

// ProducerTag is the name carried by every record this module produces.
const ProducerTag = "op-testkit\x00"

// ErrCorrupt is returned when a section contains a malformed record.
var ErrCorrupt = errors.New("corrupt record")

// Kind is the type field of a record.
type Kind int32

const (
	KindTest     Kind = 0x74657374 // 'test'
	KindExitTest Kind = 0x65786974 // 'exit'
)

func (k Kind) String() string {
	switch k {
	case KindTest:
		return "test"
	case KindExitTest:
		return "exit"
	default:
		return fmt.Sprintf("kind(0x%08x)", uint32(k))
	}
}

// Flags are carried verbatim in the record payload.
type Flags uint32

const (
	FlagSuite Flags = 1 << iota
	FlagParameterized
)

// Header is the fixed size record header.
type Header struct {
	NameSize int32
	DescSize int32
	Kind     Kind
}

// Record is a decoded record.
type Record struct {
	Header
	// Offset of the record from the start of its section.
	Offset   int
	Accessor uint64
	Flags    Flags
}

// AlignUp rounds n up to a multiple of a, which must be a power of two.
func AlignUp(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

// Size returns the number of bytes the record described by h occupies,
// including trailing padding. The result is only meaningful for non-negative
// sizes.
func Size(h Header) int {
	return AlignUp(unpaddedSize(h), recordAlign)
}

func unpaddedSize(h Header) int {
	return HeaderSize + AlignUp(int(h.NameSize), nameAlign) + int(h.DescSize)
}

func decodeHeader(b []byte) Header {
	return Header{
		NameSize: int32(binary.NativeEndian.Uint32(b[0:])),
		DescSize: int32(binary.NativeEndian.Uint32(b[4:])),
		Kind:     Kind(binary.NativeEndian.Uint32(b[8:])),
	}
}

// Encode returns a record of the given kind carrying accessor and flags.
func Encode(kind Kind, accessor uint64, flags Flags) []byte {
	h := Header{NameSize: int32(len(ProducerTag)), DescSize: PayloadSize, Kind: kind}
	buf := make([]byte, Size(h))
	binary.NativeEndian.PutUint32(buf[0:], uint32(h.NameSize))
	binary.NativeEndian.PutUint32(buf[4:], uint32(h.DescSize))
	binary.NativeEndian.PutUint32(buf[8:], uint32(h.Kind))
	copy(buf[HeaderSize:], ProducerTag)

	desc := buf[HeaderSize+AlignUp(len(ProducerTag), nameAlign):]
	binary.NativeEndian.PutUint64(desc[0:], accessor)
	binary.NativeEndian.PutUint32(desc[8:], uint32(flags))
	return buf
}

// Walk calls fn for every record in data that carries ProducerTag, in order,
// until fn returns false. Records with a foreign name are skipped. Walk stops
// at the first record whose sizes are negative or extend past the end of
// data and returns an error wrapping ErrCorrupt; records visited before that
// point have already been passed to fn.
func Walk(data []byte, fn func(Record) bool) error {
	for off := 0; off < len(data); {
		remaining := len(data) - off
		if remaining < HeaderSize {
			return fmt.Errorf("%w: truncated header at offset %d", ErrCorrupt, off)
		}
		h := decodeHeader(data[off:])
		if h.NameSize < 0 || h.DescSize < 0 {
			return fmt.Errorf("%w: negative size at offset %d", ErrCorrupt, off)
		}
		// Compare in 64 bits so large sizes cannot wrap.
		if int64(HeaderSize)+int64(AlignUp(int(h.NameSize), nameAlign))+int64(h.DescSize) > int64(remaining) {
			return fmt.Errorf("%w: record at offset %d overruns section", ErrCorrupt, off)
		}

		nameStart := off + HeaderSize
		name := data[nameStart : nameStart+int(h.NameSize)]
		desc := data[nameStart+AlignUp(int(h.NameSize), nameAlign) : off+unpaddedSize(h)]

		if string(name) == ProducerTag && len(desc) >= PayloadSize {
			rec := Record{
				Header:   h,
				Offset:   off,
				Accessor: binary.NativeEndian.Uint64(desc[0:]),
				Flags:    Flags(binary.NativeEndian.Uint32(desc[8:])),
			}
			if !fn(rec) {
				return nil
			}
		}

		// The last record of a section may omit its trailing padding.
		off += min(Size(h), remaining)
	}
	return nil
}

// WalkKind is Walk restricted to records of one kind.
func WalkKind(data []byte, kind Kind, fn func(Record) bool) error {
	return Walk(data, func(r Record) bool {
		if r.Kind != kind {
			return true
		}
		return fn(r)
	})
}
