// Package dispatch implements the mode dispatcher: it classifies the
// (in, out) endpoint pair with a file-system stat and picks one of the
// four loops, the default file backend, and the timer binding that loop
// requires.
package dispatch

import (
	"fmt"
	"os"

	"github.com/Bracksun/netsniff-ng/internal/capfile"
)

// Kind classifies one endpoint.
type Kind int

const (
	KindAbsent Kind = iota
	KindIface
	KindFile
	KindDir
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindIface:
		return "iface"
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	default:
		return "unknown"
	}
}

// Classify stats path to decide its Kind. An interface is recognized by
// presence under /sys/class/net rather than by the path existing on the
// filesystem, since interface names and file paths share the same string
// space.
func Classify(path string) Kind {
	if path == "" {
		return KindAbsent
	}
	if path == "-" {
		return KindFile
	}
	if _, err := os.Stat("/sys/class/net/" + path); err == nil {
		return KindIface
	}
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		return KindDir
	}
	return KindFile
}

// Loop names the four loops unified under one setup/run/teardown shape.
type Loop int

const (
	LoopRXDump Loop = iota
	LoopRXTXBridge
	LoopRXFile
	LoopFileTX
	LoopFileFileTranslate
)

func (l Loop) String() string {
	switch l {
	case LoopRXDump:
		return "rx-dump"
	case LoopRXTXBridge:
		return "rx-tx-bridge"
	case LoopRXFile:
		return "rx-file"
	case LoopFileTX:
		return "file-tx"
	case LoopFileFileTranslate:
		return "file-file-translate"
	default:
		return "unknown"
	}
}

// Timer names which handler, if any, the loop arms; the two handlers are
// mutually exclusive per loop invocation.
type Timer int

const (
	TimerNone Timer = iota
	TimerFlushTX
	TimerRotate
)

// Plan is the dispatcher's decision for one (in, out) pair.
type Plan struct {
	Loop      Loop
	InKind    Kind
	OutKind   Kind
	Backend   capfile.Strategy
	Timer     Timer
	RotateDir bool // true only for iface->dir, i.e. rotated dump
}

// Dispatch applies the decision table below, including the forced
// mmap→sg downgrade when an endpoint is "-": mmap cannot back a stream,
// so it silently falls back to scatter/gather rather than failing setup.
// The table's backend column is a default: when backendExplicit is set
// the user's requested strategy wins (except for the stream downgrade,
// which applies either way).
func Dispatch(in, out string, requestedBackend capfile.Strategy, backendExplicit, rotateIsTimeMode bool) (Plan, error) {
	inKind := Classify(in)
	outKind := Classify(out)

	plan := Plan{InKind: inKind, OutKind: outKind, Backend: requestedBackend}
	defaultBackend := func(s capfile.Strategy) {
		if !backendExplicit {
			plan.Backend = s
		}
	}

	switch inKind {
	case KindIface:
		switch outKind {
		case KindAbsent:
			plan.Loop = LoopRXDump
			plan.Timer = TimerNone
		case KindIface:
			plan.Loop = LoopRXTXBridge
			plan.Timer = TimerFlushTX
		case KindFile:
			plan.Loop = LoopRXFile
			defaultBackend(capfile.ScatterGather)
		case KindDir:
			plan.Loop = LoopRXFile
			plan.RotateDir = true
			defaultBackend(capfile.ScatterGather)
			if rotateIsTimeMode {
				plan.Timer = TimerRotate
			}
		}
	case KindFile:
		switch outKind {
		case KindIface:
			plan.Loop = LoopFileTX
			defaultBackend(capfile.Mapped)
			plan.Timer = TimerFlushTX
		case KindFile:
			plan.Loop = LoopFileFileTranslate
			defaultBackend(capfile.ScatterGather)
		default:
			return Plan{}, fmt.Errorf("dispatch: unsupported (in=%s, out=%s)", inKind, outKind)
		}
	default:
		return Plan{}, fmt.Errorf("dispatch: unsupported input endpoint kind %s", inKind)
	}

	if in == "-" || out == "-" {
		if plan.Backend == capfile.Mapped {
			plan.Backend = capfile.ScatterGather
		}
	}

	return plan, nil
}
