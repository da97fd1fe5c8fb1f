// Package capfile implements the capture-file codec: the global header,
// the four per-record flavors selected by magic, and the three I/O
// strategies (buffered, mapped, scatter/gather) behind one Backend
// interface.
package capfile

import (
	"encoding/binary"
	"fmt"
)

// Magic selects both byte order and record flavor. Values follow the
// netsniff-ng/libpcap family of private magics: the low 16 bits identify
// the flavor, byte-swapped forms are detected by comparing against the
// reversed bytes of each candidate.
type Magic uint32

const (
	// MagicUsec is the original tcpdump/libpcap flavor: microsecond
	// sub-second resolution, no extra fields.
	MagicUsec Magic = 0xa1b2c3d4
	// MagicNsec is MagicUsec's nanosecond-resolution twin.
	MagicNsec Magic = 0xa1b23c4d
	// MagicKuznetzov adds ifindex/protocol/pkt_type/cpu to every record.
	MagicKuznetzov Magic = 0xa1b2cd34
	// MagicBorkmann adds the Kuznetzov tuple plus a TSC timestamp.
	MagicBorkmann Magic = 0xa1e2cb12
)

// ParseMagic maps a CLI-friendly flavor name to its native-byte-order
// Magic constant; "" defaults to nsec, matching config.Default's Magic
// and the --magic flag's default.
func ParseMagic(name string) (Magic, error) {
	switch name {
	case "", "nsec":
		return MagicNsec, nil
	case "usec":
		return MagicUsec, nil
	case "kuznetzov":
		return MagicKuznetzov, nil
	case "borkmann":
		return MagicBorkmann, nil
	default:
		return 0, fmt.Errorf("capfile: unknown --magic flavor %q", name)
	}
}

func (m Magic) swapped() Magic {
	v := uint32(m)
	return Magic(binary.BigEndian.Uint32([]byte{
		byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24),
	}))
}

// Flavor identifies a record layout, independent of byte order.
type Flavor int

const (
	FlavorUsec Flavor = iota
	FlavorNsec
	FlavorKuznetzov
	FlavorBorkmann
)

// Resolve classifies magic into its byte order and record flavor, or
// returns ErrMagic if magic (in either byte order) matches none of the
// four known flavors.
func Resolve(magic uint32) (order binary.ByteOrder, flavor Flavor, err error) {
	candidates := []struct {
		m Magic
		f Flavor
	}{
		{MagicUsec, FlavorUsec},
		{MagicNsec, FlavorNsec},
		{MagicKuznetzov, FlavorKuznetzov},
		{MagicBorkmann, FlavorBorkmann},
	}
	for _, c := range candidates {
		if Magic(magic) == c.m {
			return binary.LittleEndian, c.f, nil
		}
		if Magic(magic) == c.m.swapped() {
			return binary.BigEndian, c.f, nil
		}
	}
	return nil, 0, ErrMagic
}

// GlobalHeaderSize is the fixed 24-byte capture-file global header.
const GlobalHeaderSize = 24

// GlobalHeader is the file-level header every capture file starts with.
type GlobalHeader struct {
	Magic      Magic
	VersionMaj uint16
	VersionMin uint16
	ThisZone   int32 // always zero
	SigFigs    uint32 // always zero
	SnapLen    uint32
	LinkType   uint32
}

// DefaultGlobalHeader builds a header for a fresh capture file with the
// given magic, snaplen and linktype; version is pinned at 2.4, matching
// every known consumer of this family of formats.
func DefaultGlobalHeader(magic Magic, snaplen, linktype uint32) GlobalHeader {
	return GlobalHeader{
		Magic:      magic,
		VersionMaj: 2,
		VersionMin: 4,
		SnapLen:    snaplen,
		LinkType:   linktype,
	}
}

// Encode serializes the global header in its declared byte order.
func (h GlobalHeader) Encode() []byte {
	order, _, err := Resolve(uint32(h.Magic))
	if err != nil {
		order = binary.LittleEndian
	}
	b := make([]byte, GlobalHeaderSize)
	order.PutUint32(b[0:4], uint32(h.Magic))
	order.PutUint16(b[4:6], h.VersionMaj)
	order.PutUint16(b[6:8], h.VersionMin)
	order.PutUint32(b[8:12], uint32(h.ThisZone))
	order.PutUint32(b[12:16], h.SigFigs)
	order.PutUint32(b[16:20], h.SnapLen)
	order.PutUint32(b[20:24], h.LinkType)
	return b
}

// DecodeGlobalHeader parses a 24-byte global header, selecting byte order
// from the magic field.
func DecodeGlobalHeader(b []byte) (GlobalHeader, error) {
	if len(b) < GlobalHeaderSize {
		return GlobalHeader{}, ErrMalformed
	}
	magic := binary.LittleEndian.Uint32(b[0:4])
	order, _, err := Resolve(magic)
	if err != nil {
		return GlobalHeader{}, err
	}
	return GlobalHeader{
		Magic:      Magic(order.Uint32(b[0:4])),
		VersionMaj: order.Uint16(b[4:6]),
		VersionMin: order.Uint16(b[6:8]),
		ThisZone:   int32(order.Uint32(b[8:12])),
		SigFigs:    order.Uint32(b[12:16]),
		SnapLen:    order.Uint32(b[16:20]),
		LinkType:   order.Uint32(b[20:24]),
	}, nil
}
