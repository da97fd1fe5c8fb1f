// Package config builds the immutable run context from CLI flags: a
// plain struct, a Validate that performs every fatal-at-setup check
// before any ring is mapped, and datasize.ByteSize for byte-quantity
// flags.
package config

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/Bracksun/netsniff-ng/internal/capfile"
)

// PacketType selects the CLI's packet-type filter names.
type PacketType int

const (
	PacketTypeAll PacketType = iota - 1 // -1: accept all
	PacketTypeHost
	PacketTypeBroadcast
	PacketTypeMulticast
	PacketTypeOtherHost
	PacketTypeOutgoing
)

// ParsePacketType maps a CLI name to its PacketType; "" or "all" mean
// accept everything.
func ParsePacketType(name string) (PacketType, error) {
	switch name {
	case "", "all":
		return PacketTypeAll, nil
	case "host":
		return PacketTypeHost, nil
	case "broadcast":
		return PacketTypeBroadcast, nil
	case "multicast":
		return PacketTypeMulticast, nil
	case "others":
		return PacketTypeOtherHost, nil
	case "outgoing":
		return PacketTypeOutgoing, nil
	default:
		return 0, fmt.Errorf("config: unknown packet-type %q", name)
	}
}

// PrintMode selects the dissector's output verbosity.
type PrintMode int

const (
	PrintNone PrintMode = iota
	PrintLess
	PrintNormal
	PrintHex
	PrintASCII
	PrintHexASCII
)

// CPUBind sentinels.
const (
	CPUBindNone     = -1
	CPUBindLeaveIRQ = -2
)

// RotateMode selects whether the Rotator fires on a wall-clock interval or
// a cumulative-byte threshold.
type RotateMode int

const (
	RotateNone RotateMode = iota
	RotateByTime
	RotateBySize
)

// Config is the immutable run context. Everything in it is fixed before
// the mode dispatcher picks a loop and stays fixed for the life of the
// process.
type Config struct {
	In  string // interface name, file path, or "-"
	Out string // interface name, file path, directory, or "-" (may be empty)

	FilterSource string // path or literal rules, consumed by internal/bpfrun
	LinkType     uint32
	Magic        capfile.Magic

	RingReserveSize datasize.ByteSize
	SnapLen         uint32
	Jumbo           bool
	Promiscuous     bool
	RFMon           bool
	CPUBind         int

	PacketType PacketType

	KernelPullIntervalUsec int

	RotateMode     RotateMode
	RotateInterval RotateInterval // time mode
	RotateSize     datasize.ByteSize

	RandomizeTX bool
	FrameCap    uint64

	PrintMode PrintMode

	DropUID int
	DropGID int

	Backend capfile.Strategy
	// BackendExplicit records that the user chose Backend (flag or config
	// file) rather than inheriting the default; the dispatcher only
	// applies its per-loop backend defaults when this is false.
	BackendExplicit bool

	Verbose  bool
	LogLevel string
}

// Default returns a Config with every field set to its documented
// default.
func Default() Config {
	return Config{
		Magic:                  capfile.MagicNsec,
		RingReserveSize:        8 * datasize.MB,
		SnapLen:                65535,
		CPUBind:                CPUBindNone,
		PacketType:             PacketTypeAll,
		KernelPullIntervalUsec: 10,
		PrintMode:              PrintNone,
		Backend:                capfile.ScatterGather,
		DropUID:                -1,
		DropGID:                -1,
		LogLevel:               "info",
	}
}

// Validate performs every fatal-at-setup check that must happen before
// any ring is mapped.
func (c *Config) Validate() error {
	if c.In == "" {
		return fmt.Errorf("config: input endpoint is required")
	}
	if c.RingReserveSize != 0 && c.RingReserveSize < 4096 {
		return fmt.Errorf("config: ring reserve size %s is below the minimum", c.RingReserveSize)
	}
	if c.SnapLen == 0 {
		return fmt.Errorf("config: snaplen must be non-zero")
	}
	if c.CPUBind < CPUBindLeaveIRQ {
		return fmt.Errorf("config: invalid CPU bind value %d", c.CPUBind)
	}
	if c.RotateMode == RotateBySize && c.RotateSize == 0 {
		return fmt.Errorf("config: size-mode rotation requires a non-zero rotate size")
	}
	if c.RotateMode == RotateByTime && c.RotateInterval.Seconds <= 0 {
		return fmt.Errorf("config: time-mode rotation requires a positive interval")
	}
	if c.FilterSource != "" {
		if _, err := os.Stat(c.FilterSource); err != nil && !isLikelyInlineRule(c.FilterSource) {
			return fmt.Errorf("config: filter source %q is neither a readable file nor an inline rule", c.FilterSource)
		}
	}
	return nil
}

// FileConfig is the optional on-disk mirror of the CLI flags. Every
// field is a pointer or the flag's own raw string form so the loader can
// tell "absent" from "zero value"; the caller applies a FileConfig field
// only where the matching flag was never set explicitly on the command
// line, so flags always win over the file.
type FileConfig struct {
	In     *string `yaml:"in"`
	Out    *string `yaml:"out"`
	Filter *string `yaml:"filter"`
	Magic  *string `yaml:"magic"`

	RingSize    *string `yaml:"ring-size"`
	SnapLen     *uint32 `yaml:"snaplen"`
	Jumbo       *bool   `yaml:"jumbo"`
	Promiscuous *bool   `yaml:"promisc"`
	RFMon       *bool   `yaml:"rfmon"`
	CPUBind     *int    `yaml:"cpu"`

	PacketType *string `yaml:"type"`

	PullIntervalUsec *int `yaml:"pull-interval"`

	RotateTime *string `yaml:"rotate-time"`
	RotateSize *string `yaml:"rotate-size"`

	Randomize *bool   `yaml:"randomize"`
	FrameCap  *uint64 `yaml:"frame-cap"`

	Print   *string `yaml:"print"`
	Backend *string `yaml:"backend"`

	DropUID *int `yaml:"drop-uid"`
	DropGID *int `yaml:"drop-gid"`

	Verbose  *bool   `yaml:"verbose"`
	LogLevel *string `yaml:"log-level"`
}

// LoadConfig reads and decodes a YAML config file.
func LoadConfig(path string) (*FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	fc := new(FileConfig)
	if err := yaml.NewDecoder(f).Decode(fc); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return fc, nil
}

func isLikelyInlineRule(s string) bool {
	for _, r := range s {
		if r == ' ' || r == ',' || r == '{' {
			return true
		}
	}
	return false
}
