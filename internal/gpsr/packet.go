package gpsr

import (
	"net/netip"
	"sync"

	"github.com/google/uuid"
)

// MaxPacketSize is the largest buffer the core ever hands to a Socket:
// a TypeHeader + PositionHeader (1 + 53 bytes), padded for alignment and
// headroom.
const MaxPacketSize = 64

// PacketPool provides reusable wire buffers for header marshal/unmarshal,
// mirroring the zero-allocation sync.Pool pattern used for fixed-size
// protocol headers: callers Get() a *[]byte before encoding or receiving,
// and Put() it back once the bytes have been copied out or transmitted.
var PacketPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxPacketSize)
		return &buf
	},
}

// Packet is the in-memory representation of a datagram as it moves
// through the forwarding engine. Header carries the in-flight routing
// state of spec §3 ("In-flight packet state") and is nil until the
// engine resolves the destination position and attaches one.
type Packet struct {
	// UID uniquely identifies this packet for deferred-queue
	// deduplication, independent of retransmission.
	UID uuid.UUID

	// Src is the originating IP address.
	Src netip.Addr

	// Dst is the final destination IP address.
	Dst netip.Addr

	// Payload is the upper-layer datagram this router carries; GPSR
	// never inspects it.
	Payload []byte

	// Header is the position header attached once the destination's
	// position is known. Nil means greedy forwarding has not yet
	// computed dst_pos for this packet.
	Header *PositionHeader
}

// NewPacket allocates a Packet with a fresh UID.
func NewPacket(src, dst netip.Addr, payload []byte) *Packet {
	return &Packet{
		UID:     uuid.New(),
		Src:     src,
		Dst:     dst,
		Payload: payload,
	}
}

// Clone returns a shallow copy of pkt suitable for mutation (e.g. rewriting
// PrevPos on a perimeter hop) without disturbing a caller's retained
// reference to the original. Payload is not copied; it is immutable from
// GPSR's perspective.
func (pkt *Packet) Clone() *Packet {
	cp := *pkt
	if pkt.Header != nil {
		h := *pkt.Header
		cp.Header = &h
	}
	return &cp
}
