// Package ring implements the mapped RX/TX frame ring: the kernel/user
// shared memory region, addressed by a modular cursor and synchronized
// purely through each slot's ownership word.
package ring

import (
	"encoding/binary"
)

// Status values for the TPACKET2 frame header's ownership word. Whoever
// holds TP_STATUS_KERNEL may not touch the slot; the reader may only act
// once TP_STATUS_USER (or one of the *_COPY/_LOSING bits alongside it) is
// observed.
const (
	StatusKernel       uint32 = 0
	StatusUser         uint32 = 1 << 0
	StatusCopy         uint32 = 1 << 1
	StatusLosing       uint32 = 1 << 2
	StatusCSumNotReady uint32 = 1 << 3
	StatusVlanValid    uint32 = 1 << 4
	StatusSendRequest  uint32 = 1 << 0 // TX side reuses bit 0 as "ready to send"
)

// Packet-type classification carried in sockaddr_ll.sll_pkttype, per the
// kernel's <linux/if_packet.h>.
const (
	PacketHost      uint8 = 0
	PacketBroadcast uint8 = 1
	PacketMulticast uint8 = 2
	PacketOtherHost uint8 = 3
	PacketOutgoing  uint8 = 4
)

// frameHdrLen is the aligned length of struct tpacket2_hdr, 16-byte aligned
// per TPACKET_ALIGNMENT. sockaddr_ll follows immediately, then the MAC
// payload starts at the slot's tp_mac offset.
const frameHdrLen = 32

// sockAddrLLLen is the aligned size of struct sockaddr_ll as laid out by
// the kernel inside a TPACKET2 frame.
const sockAddrLLLen = 20

// TPacket2HdrLen mirrors TPACKET2_HDRLEN: header plus the link-layer
// address block that precedes the captured bytes.
const TPacket2HdrLen = frameHdrLen + sockAddrLLLen

// FrameHeader is the canonical, decoded view of one ring slot's fixed
// header. It is a copy taken at read time; mutating it never touches the
// mapped slot — only Slot.SetStatus/WriteHeader do.
type FrameHeader struct {
	Status    uint32
	Len       uint32 // original on-wire length
	SnapLen   uint32 // captured length, <= Len
	MacOffset uint16 // offset within the slot where frame bytes begin
	NetOffset uint16
	Sec       uint32
	SubSec    uint32 // nanoseconds or microseconds, per the ring's magic
	Ifindex   int32
	Hatype    uint16
	PktType   uint8
}

// Slot is a single fixed-size region of the mapped ring, header plus
// payload capacity. It never owns memory — it is a window into the ring's
// backing mmap.
type Slot struct {
	buf []byte
}

func newSlot(buf []byte) Slot {
	return Slot{buf: buf}
}

// readStatus loads the ownership word with acquire semantics: every header
// field the kernel wrote before flipping this bit must be visible once the
// load observes TP_STATUS_USER. On amd64/arm64 a plain atomic load over
// the 32-bit word already has the required ordering with respect to the
// kernel's release-store; LoadUint32 is used (rather than a plain slice
// read) so the Go race detector and weaker-memory-model ports get the
// fence they need.
func (s Slot) readStatus() uint32 {
	return loadAcquire32(&s.buf[0])
}

// writeStatus publishes the slot back to its owner with release semantics:
// every write this side made to the slot must become visible to the other
// side no later than this store.
func (s Slot) writeStatus(v uint32) {
	storeRelease32(&s.buf[0], v)
}

// Header decodes the slot's fixed header. Callers must have already
// observed the ownership bit they expect (Ring.RXReady/TXReady) before
// trusting these fields, per the read-after-acquire protocol.
func (s Slot) Header() FrameHeader {
	b := s.buf
	h := FrameHeader{
		Status:    binary.LittleEndian.Uint32(b[0:4]),
		Len:       binary.LittleEndian.Uint32(b[4:8]),
		SnapLen:   binary.LittleEndian.Uint32(b[8:12]),
		MacOffset: binary.LittleEndian.Uint16(b[12:14]),
		NetOffset: binary.LittleEndian.Uint16(b[14:16]),
		Sec:       binary.LittleEndian.Uint32(b[16:20]),
		SubSec:    binary.LittleEndian.Uint32(b[20:24]),
	}
	if len(b) >= frameHdrLen+sockAddrLLLen {
		sall := b[frameHdrLen:]
		h.Ifindex = int32(binary.LittleEndian.Uint32(sall[4:8]))
		h.Hatype = binary.LittleEndian.Uint16(sall[8:10])
		h.PktType = sall[10]
	}
	return h
}

// Payload returns the captured bytes for an RX slot, a zero-copy window
// into the mapped ring. Callers must not retain it past the matching
// Release call.
func (s Slot) Payload() []byte {
	h := s.Header()
	start := int(h.MacOffset)
	end := start + int(h.SnapLen)
	if start < 0 || end > len(s.buf) || end < start {
		return nil
	}
	return s.buf[start:end]
}

// WriteHeader writes a TX header into the slot ahead of publishing it. Only
// valid while the slot is user-owned.
func (s Slot) WriteHeader(h FrameHeader) {
	b := s.buf
	binary.LittleEndian.PutUint32(b[4:8], h.Len)
	binary.LittleEndian.PutUint32(b[8:12], h.SnapLen)
	binary.LittleEndian.PutUint16(b[12:14], h.MacOffset)
}

// PayloadAt returns the writable region at a fixed MAC offset inside a TX
// slot, sized to at most max bytes.
func (s Slot) PayloadAt(macOffset int, max int) []byte {
	if macOffset < 0 || macOffset > len(s.buf) {
		return nil
	}
	end := macOffset + max
	if end > len(s.buf) {
		end = len(s.buf)
	}
	return s.buf[macOffset:end]
}

// Cap is the number of bytes available for payload at the conventional TX
// MAC offset (TPACKET2_HDRLEN), i.e. frame_size - TPACKET2_HDRLEN.
func (s Slot) Cap() int {
	n := len(s.buf) - TPacket2HdrLen
	if n < 0 {
		return 0
	}
	return n
}
