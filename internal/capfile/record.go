package capfile

import (
	"encoding/binary"
)

// Record is the canonical, in-memory view of one capture-file record,
// flavor-independent.
type Record struct {
	Sec     uint32
	SubSec  uint32 // microseconds or nanoseconds, per the file's flavor
	CapLen  uint32
	Len     uint32
	Ifindex int32  // Kuznetzov/Borkmann only
	Proto   uint16 // Kuznetzov/Borkmann only
	PktType uint8  // Kuznetzov/Borkmann only
	CPU     uint8  // Kuznetzov/Borkmann only
	TSC     uint64 // Borkmann only
	Payload []byte
}

// recordHdrSizes gives hdr_size(magic) for each flavor: the four fields
// every flavor shares (16 bytes) plus whatever extension the flavor adds.
var recordHdrSizes = map[Flavor]int{
	FlavorUsec:      16,
	FlavorNsec:      16,
	FlavorKuznetzov: 16 + 8, // ifindex(4) protocol(2) pkt_type(1) cpu(1)
	FlavorBorkmann:  16 + 8 + 8,
}

// HdrSize returns the on-disk per-record header size for flavor.
func HdrSize(flavor Flavor) int { return recordHdrSizes[flavor] }

// EncodeRecord serializes r as flavor's on-disk layout, in the given byte
// order, followed immediately by the payload bytes with no padding
// between records.
func EncodeRecord(order binary.ByteOrder, flavor Flavor, r Record) []byte {
	hdrSize := HdrSize(flavor)
	buf := make([]byte, hdrSize+len(r.Payload))

	order.PutUint32(buf[0:4], r.Sec)
	order.PutUint32(buf[4:8], r.SubSec)
	order.PutUint32(buf[8:12], r.CapLen)
	order.PutUint32(buf[12:16], r.Len)

	switch flavor {
	case FlavorKuznetzov:
		order.PutUint32(buf[16:20], uint32(r.Ifindex))
		order.PutUint16(buf[20:22], r.Proto)
		buf[22] = r.PktType
		buf[23] = r.CPU
	case FlavorBorkmann:
		order.PutUint32(buf[16:20], uint32(r.Ifindex))
		order.PutUint16(buf[20:22], r.Proto)
		buf[22] = r.PktType
		buf[23] = r.CPU
		order.PutUint64(buf[24:32], r.TSC)
	}

	copy(buf[hdrSize:], r.Payload)
	return buf
}

// DecodeRecordHeader parses just the fixed per-record header (not the
// payload) from b, which must be at least HdrSize(flavor) bytes.
func DecodeRecordHeader(order binary.ByteOrder, flavor Flavor, b []byte) (Record, error) {
	hdrSize := HdrSize(flavor)
	if len(b) < hdrSize {
		return Record{}, ErrMalformed
	}
	r := Record{
		Sec:    order.Uint32(b[0:4]),
		SubSec: order.Uint32(b[4:8]),
		CapLen: order.Uint32(b[8:12]),
		Len:    order.Uint32(b[12:16]),
	}
	if r.CapLen == 0 {
		return Record{}, ErrMalformed
	}

	switch flavor {
	case FlavorKuznetzov, FlavorBorkmann:
		r.Ifindex = int32(order.Uint32(b[16:20]))
		r.Proto = order.Uint16(b[20:22])
		r.PktType = b[22]
		r.CPU = b[23]
	}
	if flavor == FlavorBorkmann {
		r.TSC = order.Uint64(b[24:32])
	}
	return r, nil
}

// NanosToSubSec converts a nanosecond count to the sub-second unit a
// flavor expects (microseconds for Usec/Kuznetzov/Borkmann, nanoseconds
// for Nsec).
func NanosToSubSec(flavor Flavor, nanos uint32) uint32 {
	if flavor == FlavorNsec {
		return nanos
	}
	return nanos / 1000
}

// SubSecToNanos is NanosToSubSec's inverse.
func SubSecToNanos(flavor Flavor, subSec uint32) uint32 {
	if flavor == FlavorNsec {
		return subSec
	}
	return subSec * 1000
}
