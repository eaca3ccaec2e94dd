package gpsr

import (
	"encoding/binary"
	"fmt"
	"math"
)

// -------------------------------------------------------------------------
// Wire Header Types — spec §4.A, §6
// -------------------------------------------------------------------------

// HeaderType is the one-byte discriminator that precedes every gpsr
// control or position header on the wire.
type HeaderType uint8

const (
	// HeaderTypeHello identifies a HelloHeader.
	HeaderTypeHello HeaderType = 0

	// HeaderTypePosition identifies a PositionHeader.
	HeaderTypePosition HeaderType = 1
)

// TypeHeaderSize is the fixed wire size of the leading type byte.
const TypeHeaderSize = 1

// HelloHeaderSize is the fixed wire size of a HelloHeader: two
// little-endian IEEE-754 doubles (spec §4.A).
const HelloHeaderSize = 16

// PositionHeaderSize is the fixed wire size of a PositionHeader:
// 6 doubles + 1 uint32 + 1 byte = 53 bytes (spec §4.A).
const PositionHeaderSize = 6*8 + 4 + 1

// -------------------------------------------------------------------------
// TypeHeader
// -------------------------------------------------------------------------

// TypeHeader is the leading byte of every gpsr control packet. Valid is
// false when the wire byte did not name a known HeaderType; callers MUST
// check Valid before interpreting Type, per spec §4.A and §7
// (MalformedHeader is dropped silently, not reported as an error).
type TypeHeader struct {
	Type  HeaderType
	Valid bool
}

// MarshalTypeHeader writes h into buf[0]. buf must have length >= 1.
func MarshalTypeHeader(h TypeHeader, buf []byte) (int, error) {
	if len(buf) < TypeHeaderSize {
		return 0, fmt.Errorf("marshal type header: need %d bytes, got %d: %w",
			TypeHeaderSize, len(buf), ErrBufTooSmall)
	}
	buf[0] = byte(h.Type)
	return TypeHeaderSize, nil
}

// UnmarshalTypeHeader reads the leading byte of buf. It never returns an
// error for an unrecognized type byte; instead it reports Valid=false, so
// background noise is indistinguishable from a deliberate drop (spec §9).
// It does return an error if buf is too short to contain a type byte.
func UnmarshalTypeHeader(buf []byte) (TypeHeader, int, error) {
	if len(buf) < TypeHeaderSize {
		return TypeHeader{}, 0, fmt.Errorf("unmarshal type header: need %d bytes, got %d: %w",
			TypeHeaderSize, len(buf), ErrBufTooSmall)
	}
	t := HeaderType(buf[0])
	switch t {
	case HeaderTypeHello, HeaderTypePosition:
		return TypeHeader{Type: t, Valid: true}, TypeHeaderSize, nil
	default:
		return TypeHeader{Type: t, Valid: false}, TypeHeaderSize, nil
	}
}

// -------------------------------------------------------------------------
// HelloHeader
// -------------------------------------------------------------------------

// HelloHeader carries the emitter's own position (spec §4.A). The
// reference on-wire layout is little-endian doubles.
type HelloHeader struct {
	PositionX float64
	PositionY float64
}

// MarshalHelloHeader writes h as 16 little-endian bytes into buf.
func MarshalHelloHeader(h HelloHeader, buf []byte) (int, error) {
	if len(buf) < HelloHeaderSize {
		return 0, fmt.Errorf("marshal hello header: need %d bytes, got %d: %w",
			HelloHeaderSize, len(buf), ErrBufTooSmall)
	}
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(h.PositionX))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(h.PositionY))
	return HelloHeaderSize, nil
}

// UnmarshalHelloHeader reads a HelloHeader from the first 16 bytes of buf.
func UnmarshalHelloHeader(buf []byte) (HelloHeader, int, error) {
	if len(buf) < HelloHeaderSize {
		return HelloHeader{}, 0, fmt.Errorf("unmarshal hello header: need %d bytes, got %d: %w",
			HelloHeaderSize, len(buf), ErrBufTooSmall)
	}
	h := HelloHeader{
		PositionX: math.Float64frombits(binary.LittleEndian.Uint64(buf[0:8])),
		PositionY: math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16])),
	}
	return h, HelloHeaderSize, nil
}

// Position returns the hello's announced position as a Position.
func (h HelloHeader) Position() Position {
	return Position{X: h.PositionX, Y: h.PositionY}
}

// -------------------------------------------------------------------------
// PositionHeader
// -------------------------------------------------------------------------

// PositionHeader is the in-flight routing state carried by a
// recovery-mode data packet (spec §3, §4.A). Fields are compared
// field-wise for equality.
type PositionHeader struct {
	// DstPos is the destination's coordinates, looked up once at
	// origination.
	DstPos Position

	// RecPos is the position at which recovery mode was entered.
	// Undefined (zero value) when RecoveryFlag is false.
	RecPos Position

	// PrevPos is the position of the previous hop on a perimeter walk.
	PrevPos Position

	// Updated is an opaque monotonic counter reserved for staleness
	// checks.
	Updated uint32

	// RecoveryFlag is true when forwarding should use the right-hand
	// rule until greedy progress resumes.
	RecoveryFlag bool
}

// MarshalPositionHeader writes h as 53 bytes into buf: six little-endian
// doubles (dst, rec, prev), a big-endian uint32 (Updated), then one flag
// byte (0 = false, non-zero = true).
func MarshalPositionHeader(h PositionHeader, buf []byte) (int, error) {
	if len(buf) < PositionHeaderSize {
		return 0, fmt.Errorf("marshal position header: need %d bytes, got %d: %w",
			PositionHeaderSize, len(buf), ErrBufTooSmall)
	}
	putF64(buf[0:8], h.DstPos.X)
	putF64(buf[8:16], h.DstPos.Y)
	putF64(buf[16:24], h.RecPos.X)
	putF64(buf[24:32], h.RecPos.Y)
	putF64(buf[32:40], h.PrevPos.X)
	putF64(buf[40:48], h.PrevPos.Y)
	binary.BigEndian.PutUint32(buf[48:52], h.Updated)
	if h.RecoveryFlag {
		buf[52] = 1
	} else {
		buf[52] = 0
	}
	return PositionHeaderSize, nil
}

// UnmarshalPositionHeader reads a PositionHeader from the first 53 bytes
// of buf.
func UnmarshalPositionHeader(buf []byte) (PositionHeader, int, error) {
	if len(buf) < PositionHeaderSize {
		return PositionHeader{}, 0, fmt.Errorf("unmarshal position header: need %d bytes, got %d: %w",
			PositionHeaderSize, len(buf), ErrBufTooSmall)
	}
	h := PositionHeader{
		DstPos: Position{
			X: getF64(buf[0:8]),
			Y: getF64(buf[8:16]),
		},
		RecPos: Position{
			X: getF64(buf[16:24]),
			Y: getF64(buf[24:32]),
		},
		PrevPos: Position{
			X: getF64(buf[32:40]),
			Y: getF64(buf[40:48]),
		},
		Updated:      binary.BigEndian.Uint32(buf[48:52]),
		RecoveryFlag: buf[52] != 0,
	}
	return h, PositionHeaderSize, nil
}

func putF64(buf []byte, v float64) {
	binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
}

func getF64(buf []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(buf))
}
