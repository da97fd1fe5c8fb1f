//go:build linux

package main

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"

	"github.com/Bracksun/netsniff-ng/internal/capfile"
	"github.com/Bracksun/netsniff-ng/internal/config"
)

// Cmd holds the raw flag values, translated into a config.Config by
// buildConfig once cobra has parsed argv.
type Cmd struct {
	In  string
	Out string

	Filter   string
	LinkType uint32
	Magic    string

	RingSize    string
	SnapLen     uint32
	Jumbo       bool
	Promiscuous bool
	RFMon       bool
	CPUBind     int

	PacketType string

	PullIntervalUsec int

	RotateTime string
	RotateSize string

	Randomize bool
	FrameCap  uint64

	Print   string
	Backend string

	DropUID int
	DropGID int

	Verbose  bool
	LogLevel string

	ConfigPath string
}

var cmd Cmd

var rootCmd = &cobra.Command{
	Use:   "pcapcore",
	Short: "Ring-buffer packet capture, replay and forwarding engine",
	RunE: func(rawCmd *cobra.Command, _ []string) error {
		cfg, err := buildConfig(rawCmd, cmd)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&cmd.In, "in", "i", "", "input: interface name, capture file path, or \"-\" for stdin (required)")
	f.StringVarP(&cmd.Out, "out", "o", "", "output: interface name, capture file path, directory (rotated), or \"-\"")

	f.StringVarP(&cmd.Filter, "filter", "f", "", "BPF rules file, or an inline \"op,jt,jf,k\" program")
	f.Uint32Var(&cmd.LinkType, "linktype", 1, "DLT link-layer type for dissection and the capture file header")
	f.StringVar(&cmd.Magic, "magic", "nsec", "capture-file record flavor: usec, nsec, kuznetzov, borkmann")

	f.StringVar(&cmd.RingSize, "ring-size", "8MB", "AF_PACKET ring reserve size (e.g. 8MB, 64KiB)")
	f.Uint32VarP(&cmd.SnapLen, "snaplen", "s", 65535, "per-frame capture length; bounds ring frame size and the capture file's global header snaplen")
	f.BoolVarP(&cmd.Jumbo, "jumbo", "j", false, "size ring frames for jumbo (>64K) captures")
	f.BoolVarP(&cmd.Promiscuous, "promisc", "p", false, "enable promiscuous mode on the input interface")
	f.BoolVar(&cmd.RFMon, "rfmon", false, "enter 802.11 monitor mode on the input interface")
	f.IntVar(&cmd.CPUBind, "cpu", config.CPUBindNone, "bind the interface's IRQ to this CPU; -1 none, -2 leave IRQ affinity untouched")

	f.StringVarP(&cmd.PacketType, "type", "t", "all", "packet-type filter: all, host, broadcast, multicast, others, outgoing")

	f.IntVar(&cmd.PullIntervalUsec, "pull-interval", 10, "flush-TX/kernel-pull timer period in microseconds")

	f.StringVar(&cmd.RotateTime, "rotate-time", "", "rotate output by wall-clock interval (e.g. 60s, 5min, 2hrs)")
	f.StringVar(&cmd.RotateSize, "rotate-size", "", "rotate output after this many cumulative bytes (e.g. 100MB)")

	f.BoolVarP(&cmd.Randomize, "randomize", "R", false, "randomize the TX ring cursor instead of advancing sequentially")
	f.Uint64Var(&cmd.FrameCap, "frame-cap", 0, "stop after this many accepted frames; 0 means unbounded")

	f.StringVar(&cmd.Print, "print", "none", "dissector print mode: none, less, normal, hex, ascii, hexascii")
	f.StringVar(&cmd.Backend, "backend", "sg", "capture-file I/O backend: clrw, mmap, sg")

	f.IntVar(&cmd.DropUID, "drop-uid", -1, "drop privileges to this UID after setup; -1 to skip")
	f.IntVar(&cmd.DropGID, "drop-gid", -1, "drop privileges to this GID after setup; -1 to skip")

	f.BoolVarP(&cmd.Verbose, "verbose", "v", false, "print a rotation summary and log at debug level")
	f.StringVar(&cmd.LogLevel, "log-level", "info", "zap log level: debug, info, warn, error")

	f.StringVarP(&cmd.ConfigPath, "config", "c", "", "optional YAML config file; explicit flags on the command line override it")
}

func buildConfig(rawCmd *cobra.Command, cmd Cmd) (config.Config, error) {
	backendExplicit := rawCmd.Flags().Changed("backend")
	if cmd.ConfigPath != "" {
		fc, err := config.LoadConfig(cmd.ConfigPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("pcapcore: %w", err)
		}
		applyFileConfig(&cmd, fc, rawCmd.Flags().Changed)
		if fc.Backend != nil {
			backendExplicit = true
		}
	}

	magic, err := capfile.ParseMagic(cmd.Magic)
	if err != nil {
		return config.Config{}, fmt.Errorf("pcapcore: %w", err)
	}

	cfg := config.Default()
	cfg.In = cmd.In
	cfg.Magic = magic
	cfg.Out = cmd.Out
	cfg.FilterSource = cmd.Filter
	cfg.LinkType = cmd.LinkType
	cfg.SnapLen = cmd.SnapLen
	cfg.Jumbo = cmd.Jumbo
	cfg.Promiscuous = cmd.Promiscuous
	cfg.RFMon = cmd.RFMon
	cfg.CPUBind = cmd.CPUBind
	cfg.KernelPullIntervalUsec = cmd.PullIntervalUsec
	cfg.RandomizeTX = cmd.Randomize
	cfg.FrameCap = cmd.FrameCap
	cfg.DropUID = cmd.DropUID
	cfg.DropGID = cmd.DropGID
	cfg.Verbose = cmd.Verbose
	cfg.LogLevel = cmd.LogLevel

	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(cmd.RingSize)); err != nil {
		return config.Config{}, fmt.Errorf("pcapcore: invalid --ring-size %q: %w", cmd.RingSize, err)
	}
	cfg.RingReserveSize = size

	pt, err := config.ParsePacketType(cmd.PacketType)
	if err != nil {
		return config.Config{}, fmt.Errorf("pcapcore: %w", err)
	}
	cfg.PacketType = pt

	switch {
	case cmd.RotateTime != "":
		interval, err := config.ParseRotateInterval(cmd.RotateTime)
		if err != nil {
			return config.Config{}, fmt.Errorf("pcapcore: %w", err)
		}
		cfg.RotateMode = config.RotateByTime
		cfg.RotateInterval = interval
	case cmd.RotateSize != "":
		var rs datasize.ByteSize
		if err := rs.UnmarshalText([]byte(cmd.RotateSize)); err != nil {
			return config.Config{}, fmt.Errorf("pcapcore: invalid --rotate-size %q: %w", cmd.RotateSize, err)
		}
		cfg.RotateMode = config.RotateBySize
		cfg.RotateSize = rs
	}

	printMode, err := parsePrintMode(cmd.Print)
	if err != nil {
		return config.Config{}, err
	}
	cfg.PrintMode = printMode

	backend, err := parseBackend(cmd.Backend)
	if err != nil {
		return config.Config{}, err
	}
	cfg.Backend = backend
	cfg.BackendExplicit = backendExplicit

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// applyFileConfig overlays fc onto cmd, field by field, skipping any
// field whose matching CLI flag the user set explicitly — flags always
// win over the config file.
func applyFileConfig(cmd *Cmd, fc *config.FileConfig, changed func(string) bool) {
	if fc.In != nil && !changed("in") {
		cmd.In = *fc.In
	}
	if fc.Out != nil && !changed("out") {
		cmd.Out = *fc.Out
	}
	if fc.Filter != nil && !changed("filter") {
		cmd.Filter = *fc.Filter
	}
	if fc.Magic != nil && !changed("magic") {
		cmd.Magic = *fc.Magic
	}
	if fc.RingSize != nil && !changed("ring-size") {
		cmd.RingSize = *fc.RingSize
	}
	if fc.SnapLen != nil && !changed("snaplen") {
		cmd.SnapLen = *fc.SnapLen
	}
	if fc.Jumbo != nil && !changed("jumbo") {
		cmd.Jumbo = *fc.Jumbo
	}
	if fc.Promiscuous != nil && !changed("promisc") {
		cmd.Promiscuous = *fc.Promiscuous
	}
	if fc.RFMon != nil && !changed("rfmon") {
		cmd.RFMon = *fc.RFMon
	}
	if fc.CPUBind != nil && !changed("cpu") {
		cmd.CPUBind = *fc.CPUBind
	}
	if fc.PacketType != nil && !changed("type") {
		cmd.PacketType = *fc.PacketType
	}
	if fc.PullIntervalUsec != nil && !changed("pull-interval") {
		cmd.PullIntervalUsec = *fc.PullIntervalUsec
	}
	if fc.RotateTime != nil && !changed("rotate-time") {
		cmd.RotateTime = *fc.RotateTime
	}
	if fc.RotateSize != nil && !changed("rotate-size") {
		cmd.RotateSize = *fc.RotateSize
	}
	if fc.Randomize != nil && !changed("randomize") {
		cmd.Randomize = *fc.Randomize
	}
	if fc.FrameCap != nil && !changed("frame-cap") {
		cmd.FrameCap = *fc.FrameCap
	}
	if fc.Print != nil && !changed("print") {
		cmd.Print = *fc.Print
	}
	if fc.Backend != nil && !changed("backend") {
		cmd.Backend = *fc.Backend
	}
	if fc.DropUID != nil && !changed("drop-uid") {
		cmd.DropUID = *fc.DropUID
	}
	if fc.DropGID != nil && !changed("drop-gid") {
		cmd.DropGID = *fc.DropGID
	}
	if fc.Verbose != nil && !changed("verbose") {
		cmd.Verbose = *fc.Verbose
	}
	if fc.LogLevel != nil && !changed("log-level") {
		cmd.LogLevel = *fc.LogLevel
	}
}

func parsePrintMode(s string) (config.PrintMode, error) {
	switch s {
	case "none":
		return config.PrintNone, nil
	case "less":
		return config.PrintLess, nil
	case "normal":
		return config.PrintNormal, nil
	case "hex":
		return config.PrintHex, nil
	case "ascii":
		return config.PrintASCII, nil
	case "hexascii":
		return config.PrintHexASCII, nil
	default:
		return 0, fmt.Errorf("pcapcore: unknown --print mode %q", s)
	}
}

func parseBackend(s string) (capfile.Strategy, error) {
	switch s {
	case "clrw":
		return capfile.Buffered, nil
	case "mmap":
		return capfile.Mapped, nil
	case "sg":
		return capfile.ScatterGather, nil
	default:
		return 0, fmt.Errorf("pcapcore: unknown --backend %q", s)
	}
}
