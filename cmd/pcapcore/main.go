//go:build linux

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Bracksun/netsniff-ng/internal/bpfrun"
	"github.com/Bracksun/netsniff-ng/internal/capfile"
	"github.com/Bracksun/netsniff-ng/internal/config"
	"github.com/Bracksun/netsniff-ng/internal/dispatch"
	"github.com/Bracksun/netsniff-ng/internal/dissect"
	"github.com/Bracksun/netsniff-ng/internal/iface"
	"github.com/Bracksun/netsniff-ng/internal/loop"
	"github.com/Bracksun/netsniff-ng/internal/ring"
	"github.com/Bracksun/netsniff-ng/internal/rotate"
	"github.com/Bracksun/netsniff-ng/internal/runtime"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pcapcore: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	log, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	prog, err := loadFilter(cfg)
	if err != nil {
		return err
	}

	plan, err := dispatch.Dispatch(cfg.In, cfg.Out, cfg.Backend, cfg.BackendExplicit, cfg.RotateMode == config.RotateByTime)
	if err != nil {
		return err
	}
	log.Infow("dispatched", "loop", plan.Loop, "in", plan.InKind, "out", plan.OutKind, "backend", plan.Backend)

	state := runtime.New()
	defer state.Close()

	pullInterval := time.Duration(cfg.KernelPullIntervalUsec) * time.Microsecond
	deps := loop.Deps{
		State:      state,
		Filter:     prog,
		PrintMode:  dissectMode(cfg.PrintMode),
		LinkType:   cfg.LinkType,
		PacketType: cfg.PacketType,
		FrameCap:   cfg.FrameCap,
		Log:        log,
	}

	// internal/runtime.State already catches SIGINT/SIGHUP on its own
	// goroutine; SIGTERM is supervised here instead: one goroutine runs
	// the loop, the other requests a cooperative stop as soon as SIGTERM
	// arrives and then exits once the loop has unwound.
	done := make(chan struct{})
	wg, ctx := errgroup.WithContext(context.Background())
	wg.Go(func() error {
		defer close(done)
		return dispatchLoop(plan, cfg, deps, pullInterval)
	})
	wg.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			log.Infow("caught SIGTERM, requesting stop", "tx_fd", state.TXFD())
			state.RequestStop()
		case <-done:
		case <-ctx.Done():
		}
		return nil
	})
	return wg.Wait()
}

// printSummary writes the per-loop summary to stdout: packets in/out,
// truncated, skipped, bytes, elapsed time.
func printSummary(loopName string, stats loop.Stats) {
	fmt.Printf("%s: %s\n", loopName, stats)
}

func dispatchLoop(plan dispatch.Plan, cfg config.Config, deps loop.Deps, pullInterval time.Duration) error {
	var stats loop.Stats
	var err error
	switch plan.Loop {
	case dispatch.LoopRXDump:
		stats, err = runRXDump(cfg, deps)
	case dispatch.LoopRXFile:
		stats, err = runRXFile(cfg, plan, deps)
	case dispatch.LoopFileTX:
		stats, err = runFileTX(cfg, plan, deps, pullInterval)
	case dispatch.LoopRXTXBridge:
		stats, err = runRXTXBridge(cfg, deps, pullInterval)
	case dispatch.LoopFileFileTranslate:
		stats, err = runFileFileTranslate(cfg, plan, deps)
	default:
		return fmt.Errorf("pcapcore: unhandled loop kind %v", plan.Loop)
	}
	printSummary(plan.Loop.String(), stats)
	return err
}

func loadFilter(cfg config.Config) (*bpfrun.Program, error) {
	if cfg.FilterSource == "" {
		return bpfrun.AcceptAll(), nil
	}
	return bpfrun.Parse(cfg.FilterSource, cfg.LinkType)
}

func dissectMode(pm config.PrintMode) dissect.Mode {
	switch pm {
	case config.PrintLess:
		return dissect.ModeLess
	case config.PrintNormal:
		return dissect.ModeNormal
	case config.PrintHex:
		return dissect.ModeHex
	case config.PrintASCII:
		return dissect.ModeASCII
	case config.PrintHexASCII:
		return dissect.ModeHexASCII
	default:
		return dissect.ModeNone
	}
}

// ringTeardown undoes whatever openRXRing set up beyond the ring's own
// fd (monitor mode, promiscuous membership) and then closes the ring.
type ringTeardown func() error

// bindIRQ best-effort-binds ifName's IRQ to cfg.CPUBind. Failures are
// logged, never fatal: IRQ steering is a performance tweak, not a
// correctness requirement (internal/iface.BindIRQToCPU's own doc
// comment). The -1/-2 sentinels are checked here too, so the
// /proc/interrupts scan is skipped entirely in the common no-bind case.
func bindIRQ(ifName string, cpu int, log *zap.SugaredLogger) {
	if cpu == config.CPUBindNone || cpu == config.CPUBindLeaveIRQ {
		return
	}
	irq, err := iface.IRQForInterface(ifName)
	if err != nil {
		log.Warnw("could not resolve IRQ for interface, skipping CPU affinity bind", "iface", ifName, "error", err)
		return
	}
	if err := iface.BindIRQToCPU(irq, cpu); err != nil {
		log.Warnw("IRQ affinity bind failed", "iface", ifName, "irq", irq, "cpu", cpu, "error", err)
	}
}

func openRXRing(cfg config.Config, prog *bpfrun.Program, log *zap.SugaredLogger) (*ring.Ring, ringTeardown, error) {
	info, err := iface.Lookup(cfg.In)
	if err != nil {
		return nil, nil, err
	}

	var rfmonEntered bool
	if cfg.RFMon {
		rfmonEntered, err = iface.EnterMonitorMode(cfg.In)
		if err != nil {
			return nil, nil, err
		}
	}

	bindIRQ(cfg.In, cfg.CPUBind, log)

	r, err := ring.Open(ring.RX, info.Index, uint64(cfg.RingReserveSize), cfg.SnapLen, cfg.Jumbo)
	if err != nil {
		return nil, nil, err
	}

	var promiscSet bool
	if cfg.Promiscuous {
		if err := r.SetPromiscuous(info.Index, true); err != nil {
			_ = r.Close()
			return nil, nil, err
		}
		promiscSet = true
	}

	if prog != nil {
		if err := r.AttachFilter(prog.SockFilter()); err != nil {
			log.Warnw("kernel-side filter attach failed, continuing with user-space filtering only", "iface", cfg.In, "error", err)
		}
	}

	teardown := func() error {
		var firstErr error
		if promiscSet {
			if err := r.SetPromiscuous(info.Index, false); err != nil {
				firstErr = err
			}
		}
		if rfmonEntered {
			if err := iface.LeaveMonitorMode(cfg.In); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}
	return r, teardown, nil
}

func openTXRing(cfg config.Config, ifName string, log *zap.SugaredLogger) (*ring.Ring, error) {
	info, err := iface.Lookup(ifName)
	if err != nil {
		return nil, err
	}
	bindIRQ(ifName, cfg.CPUBind, log)
	return ring.Open(ring.TX, info.Index, uint64(cfg.RingReserveSize), cfg.SnapLen, cfg.Jumbo)
}

func runRXDump(cfg config.Config, deps loop.Deps) (loop.Stats, error) {
	r, teardown, err := openRXRing(cfg, deps.Filter, deps.Log)
	if err != nil {
		return loop.Stats{}, err
	}
	defer teardown()
	if err := iface.DropPrivileges(cfg.DropUID, cfg.DropGID); err != nil {
		return loop.Stats{}, err
	}
	return loop.RunRXDump(r, deps, os.Stdout)
}

func runRXFile(cfg config.Config, plan dispatch.Plan, deps loop.Deps) (loop.Stats, error) {
	r, teardown, err := openRXRing(cfg, deps.Filter, deps.Log)
	if err != nil {
		return loop.Stats{}, err
	}
	defer teardown()

	hdr := capfile.DefaultGlobalHeader(cfg.Magic, cfg.SnapLen, cfg.LinkType)
	opener := func(f *os.File) (capfile.Backend, error) {
		return openBackendForWrite(plan.Backend, f, cfg.Jumbo)
	}

	if plan.RotateDir {
		mode := rotate.ByTime
		var interval uint64
		if cfg.RotateMode == config.RotateBySize {
			mode = rotate.BySize
			interval = uint64(cfg.RotateSize)
		}
		rot := rotate.New(cfg.Out, "dump-", mode, interval, hdr, opener, deps.State, deps.Log, cfg.Verbose)
		if err := rot.Open(); err != nil {
			return loop.Stats{}, err
		}
		defer rot.Close()
		if plan.Timer == dispatch.TimerRotate {
			stop := deps.State.ArmRotateTimer(time.Duration(cfg.RotateInterval.Seconds) * time.Second)
			defer stop()
		}
		if err := iface.DropPrivileges(cfg.DropUID, cfg.DropGID); err != nil {
			return loop.Stats{}, err
		}
		return loop.RunRXFile(r, rot, deps, os.Stdout)
	}

	f, err := openWritable(cfg.Out)
	if err != nil {
		return loop.Stats{}, fmt.Errorf("pcapcore: create %s: %w", cfg.Out, err)
	}
	backend, err := opener(f)
	if err != nil {
		_ = f.Close()
		return loop.Stats{}, err
	}
	if err := backend.WriteHeader(hdr); err != nil {
		_ = backend.Close()
		return loop.Stats{}, err
	}
	defer backend.Close()
	if err := iface.DropPrivileges(cfg.DropUID, cfg.DropGID); err != nil {
		return loop.Stats{}, err
	}
	return runRXFileSingle(r, backend, deps)
}

// runRXFileSingle is RunRXFile's rotator-less twin: it writes straight to
// one already-opened backend instead of handing records to a Rotator, so
// it keeps its own Stats rather than sharing internal/loop's.
func runRXFileSingle(r *ring.Ring, backend capfile.Backend, deps loop.Deps) (loop.Stats, error) {
	start := time.Now()
	var stats loop.Stats
	var processed uint64
	for !deps.State.Stop() {
		if deps.FrameCap != 0 && processed >= deps.FrameCap {
			deps.State.RequestStop()
			break
		}
		if !r.RXReady() {
			if err := r.Poll(); err != nil {
				stats.Elapsed = time.Since(start)
				return stats, err
			}
			continue
		}
		slot := r.Current()
		hdr := slot.Header()
		if hdr.SnapLen > r.Layout().FrameSize {
			stats.Skipped++
			r.Release(slot)
			r.Advance()
			continue
		}
		stats.In++
		payload := slot.Payload()
		if hdr.SnapLen < hdr.Len {
			stats.Truncated++
		}
		pktTypeOK := deps.PacketType == config.PacketTypeAll || uint8(deps.PacketType) == hdr.PktType
		if pktTypeOK && bpfrun.RunOrAccept(deps.Filter, payload, int(hdr.SnapLen)) {
			rec := capfile.Record{Sec: hdr.Sec, SubSec: hdr.SubSec, CapLen: hdr.SnapLen, Len: hdr.Len, Ifindex: hdr.Ifindex, PktType: hdr.PktType, Payload: payload}
			if err := backend.WriteRecord(rec); err != nil {
				r.Release(slot)
				stats.Elapsed = time.Since(start)
				return stats, err
			}
			if deps.PrintMode != dissect.ModeNone {
				if _, err := io.WriteString(os.Stdout, dissect.Dissect(payload, deps.LinkType, deps.PrintMode)); err != nil {
					r.Release(slot)
					stats.Elapsed = time.Since(start)
					return stats, err
				}
			}
			processed++
			stats.Out++
			stats.Bytes += uint64(hdr.SnapLen)
		}
		r.Release(slot)
		r.Advance()
	}
	stats.Elapsed = time.Since(start)
	if err := backend.Flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

func runFileTX(cfg config.Config, plan dispatch.Plan, deps loop.Deps, pullInterval time.Duration) (loop.Stats, error) {
	f, err := openReadable(cfg.In)
	if err != nil {
		return loop.Stats{}, err
	}
	defer f.Close()

	backend, err := openBackendForRead(plan.Backend, f, cfg.Jumbo)
	if err != nil {
		return loop.Stats{}, err
	}
	if _, err := backend.ReadHeader(); err != nil {
		return loop.Stats{}, err
	}

	tx, err := openTXRing(cfg, cfg.Out, deps.Log)
	if err != nil {
		return loop.Stats{}, err
	}
	defer tx.Close()

	if err := iface.DropPrivileges(cfg.DropUID, cfg.DropGID); err != nil {
		return loop.Stats{}, err
	}
	return loop.RunFileTX(backend, tx, cfg.RandomizeTX, pullInterval, deps)
}

func runRXTXBridge(cfg config.Config, deps loop.Deps, pullInterval time.Duration) (loop.Stats, error) {
	rx, teardown, err := openRXRing(cfg, deps.Filter, deps.Log)
	if err != nil {
		return loop.Stats{}, err
	}
	defer teardown()

	tx, err := openTXRing(cfg, cfg.Out, deps.Log)
	if err != nil {
		return loop.Stats{}, err
	}
	defer tx.Close()

	if err := iface.DropPrivileges(cfg.DropUID, cfg.DropGID); err != nil {
		return loop.Stats{}, err
	}
	return loop.RunRXTXBridge(rx, tx, cfg.RandomizeTX, pullInterval, deps)
}

func runFileFileTranslate(cfg config.Config, plan dispatch.Plan, deps loop.Deps) (loop.Stats, error) {
	in, err := openReadable(cfg.In)
	if err != nil {
		return loop.Stats{}, err
	}
	defer in.Close()

	backend, err := openBackendForRead(plan.Backend, in, cfg.Jumbo)
	if err != nil {
		return loop.Stats{}, err
	}
	if _, err := backend.ReadHeader(); err != nil {
		return loop.Stats{}, err
	}

	out, err := openWritable(cfg.Out)
	if err != nil {
		return loop.Stats{}, err
	}
	defer out.Close()

	if err := iface.DropPrivileges(cfg.DropUID, cfg.DropGID); err != nil {
		return loop.Stats{}, err
	}

	return loop.RunFileFileTranslate(backend, loop.WriteTrafgen(out), deps)
}

func openReadable(path string) (*os.File, error) {
	if path == "-" {
		return os.Stdin, nil
	}
	return os.Open(path)
}

func openWritable(path string) (*os.File, error) {
	if path == "-" {
		return os.Stdout, nil
	}
	return os.Create(path)
}

func openBackendForRead(strategy capfile.Strategy, f *os.File, jumbo bool) (capfile.Backend, error) {
	switch strategy {
	case capfile.Mapped:
		return capfile.NewMapped(f, false)
	case capfile.Buffered:
		return capfile.NewBuffered(f, false), nil
	default:
		return capfile.NewScatterGather(f, false, jumbo), nil
	}
}

func openBackendForWrite(strategy capfile.Strategy, f *os.File, jumbo bool) (capfile.Backend, error) {
	switch strategy {
	case capfile.Mapped:
		return capfile.NewMapped(f, true)
	case capfile.Buffered:
		return capfile.NewBuffered(f, true), nil
	default:
		return capfile.NewScatterGather(f, true, jumbo), nil
	}
}
