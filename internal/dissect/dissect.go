// Package dissect implements packet rendering for the "print mode" the
// capture loops consult after a frame passes its filter: one-line
// summaries, full layer dumps, and the hex/ASCII views. Built on
// gopacket/gopacket.
package dissect

import (
	"fmt"
	"strings"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// Mode selects the output format.
type Mode int

const (
	ModeNone Mode = iota
	ModeLess
	ModeNormal
	ModeHex
	ModeASCII
	ModeHexASCII
)

// Dissect renders data (linktype-tagged MAC-layer bytes) per mode. It
// returns "" for ModeNone, meaning the loop should not print anything —
// the caller decides whether to write that to stdout.
func Dissect(data []byte, linkType uint32, mode Mode) string {
	switch mode {
	case ModeNone:
		return ""
	case ModeHex:
		return hexDump(data)
	case ModeASCII:
		return asciiDump(data)
	case ModeHexASCII:
		return hexASCIIDump(data)
	case ModeLess:
		pkt := gopacket.NewPacket(data, layers.LinkType(linkType), gopacket.Lazy)
		return oneLineSummary(pkt)
	case ModeNormal:
		pkt := gopacket.NewPacket(data, layers.LinkType(linkType), gopacket.Default)
		return pkt.String()
	default:
		return ""
	}
}

func oneLineSummary(pkt gopacket.Packet) string {
	var layerNames []string
	for _, l := range pkt.Layers() {
		layerNames = append(layerNames, l.LayerType().String())
	}
	return fmt.Sprintf("%d bytes: %s", len(pkt.Data()), strings.Join(layerNames, " > "))
}

func hexDump(data []byte) string {
	var b strings.Builder
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		fmt.Fprintf(&b, "%04x  ", i)
		for _, c := range data[i:end] {
			fmt.Fprintf(&b, "%02x ", c)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func asciiDump(data []byte) string {
	var b strings.Builder
	for _, c := range data {
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	b.WriteByte('\n')
	return b.String()
}

func hexASCIIDump(data []byte) string {
	var b strings.Builder
	for i := 0; i < len(data); i += 16 {
		end := i + 16
		if end > len(data) {
			end = len(data)
		}
		chunk := data[i:end]
		fmt.Fprintf(&b, "%04x  ", i)
		for _, c := range chunk {
			fmt.Fprintf(&b, "%02x ", c)
		}
		for j := len(chunk); j < 16; j++ {
			b.WriteString("   ")
		}
		b.WriteString(" |")
		for _, c := range chunk {
			if c >= 0x20 && c < 0x7f {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteString("|\n")
	}
	return b.String()
}
