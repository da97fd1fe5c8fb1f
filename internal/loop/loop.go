//go:build linux

// Package loop implements the four run loops the mode dispatcher selects
// between: RX-only dump or RX-to-file capture (optionally rotated),
// file-to-TX replay, RX-to-TX bridging, and file-to-file translation.
// Every loop follows the same setup/run/teardown shape: open rings or
// backends, arm whichever timer the loop needs, iterate until the stop
// flag or frame cap fires, then flush and close in teardown.
package loop

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/Bracksun/netsniff-ng/internal/bpfrun"
	"github.com/Bracksun/netsniff-ng/internal/capfile"
	"github.com/Bracksun/netsniff-ng/internal/config"
	"github.com/Bracksun/netsniff-ng/internal/dissect"
	"github.com/Bracksun/netsniff-ng/internal/ring"
	"github.com/Bracksun/netsniff-ng/internal/rotate"
	"github.com/Bracksun/netsniff-ng/internal/runtime"
)

// Deps bundles the collaborators every loop needs but none of them owns:
// the process-wide state, the pre-parsed filter, the dissector mode, the
// frame cap, and the packet-type filter.
type Deps struct {
	State      *runtime.State
	Filter     *bpfrun.Program
	PrintMode  dissect.Mode
	LinkType   uint32
	PacketType config.PacketType
	FrameCap   uint64
	Log        *zap.SugaredLogger
}

// Stats accumulates the counters every loop prints at teardown: packets
// in/out, truncated, skipped, bytes moved, and wall time. "In" counts
// every frame/record the loop considered; "Out" counts
// what it actually delivered (printed, written, or transmitted). What
// neither Skipped nor Out accounts for is what the filter rejected.
type Stats struct {
	In        uint64
	Out       uint64
	Truncated uint64
	Skipped   uint64
	Bytes     uint64
	Elapsed   time.Duration
}

// String renders the one-line run summary.
func (s Stats) String() string {
	return fmt.Sprintf("in=%d out=%d truncated=%d skipped=%d bytes=%d elapsed=%s",
		s.In, s.Out, s.Truncated, s.Skipped, s.Bytes, s.Elapsed)
}

// matchesPacketType reports whether pktType passes the configured filter;
// PacketTypeAll accepts everything.
func matchesPacketType(pt config.PacketType, pktType uint8) bool {
	if pt == config.PacketTypeAll {
		return true
	}
	return uint8(pt) == pktType
}

// capReached reports whether the loop has processed its configured frame
// cap (0 means unbounded).
func capReached(cap, processed uint64) bool {
	return cap != 0 && processed >= cap
}

// RunRXDump implements the RX-only loop: poll, for each ready slot run the
// filter and packet-type check, print per the dissector mode, release,
// advance. No file is ever opened.
func RunRXDump(rx *ring.Ring, d Deps, out io.Writer) (Stats, error) {
	start := time.Now()
	var stats Stats
	var processed uint64
	for !d.State.Stop() {
		if capReached(d.FrameCap, processed) {
			d.State.RequestStop()
			break
		}
		if !rx.RXReady() {
			if err := rx.Poll(); err != nil {
				stats.Elapsed = time.Since(start)
				return stats, fmt.Errorf("loop: rx-dump poll: %w", err)
			}
			continue
		}
		slot := rx.Current()
		hdr := slot.Header()
		if hdr.SnapLen > rx.Layout().FrameSize {
			stats.Skipped++
			rx.Release(slot)
			rx.Advance()
			continue
		}
		stats.In++
		payload := slot.Payload()
		if hdr.SnapLen < hdr.Len {
			stats.Truncated++
		}
		if matchesPacketType(d.PacketType, hdr.PktType) && bpfrun.RunOrAccept(d.Filter, payload, int(hdr.SnapLen)) {
			processed++
			if d.PrintMode != dissect.ModeNone {
				if _, err := io.WriteString(out, dissect.Dissect(payload, d.LinkType, d.PrintMode)); err != nil {
					rx.Release(slot)
					stats.Elapsed = time.Since(start)
					return stats, fmt.Errorf("loop: rx-dump write: %w", err)
				}
			}
			stats.Out++
			stats.Bytes += uint64(len(payload))
		}
		rx.Release(slot)
		rx.Advance()
	}
	stats.Elapsed = time.Since(start)
	return stats, nil
}

// RunRXFile implements the RX-to-file loop: same per-slot filter/print as
// RunRXDump, but accepted frames are also encoded into the rotator's
// current backend, and the rotator's own byte/time rotation is checked
// once per slot.
func RunRXFile(rx *ring.Ring, rot *rotate.Rotator, d Deps, out io.Writer) (Stats, error) {
	start := time.Now()
	var stats Stats
	var processed uint64
	for !d.State.Stop() {
		if capReached(d.FrameCap, processed) {
			d.State.RequestStop()
			break
		}
		if err := rot.MaybeRotate(); err != nil {
			stats.Elapsed = time.Since(start)
			return stats, fmt.Errorf("loop: rx-file rotate: %w", err)
		}
		if !rx.RXReady() {
			if err := rx.Poll(); err != nil {
				stats.Elapsed = time.Since(start)
				return stats, fmt.Errorf("loop: rx-file poll: %w", err)
			}
			continue
		}
		slot := rx.Current()
		hdr := slot.Header()
		if hdr.SnapLen > rx.Layout().FrameSize {
			stats.Skipped++
			rx.Release(slot)
			rx.Advance()
			continue
		}
		stats.In++
		payload := slot.Payload()
		if hdr.SnapLen < hdr.Len {
			stats.Truncated++
		}
		accept := matchesPacketType(d.PacketType, hdr.PktType) && bpfrun.RunOrAccept(d.Filter, payload, int(hdr.SnapLen))
		if accept {
			rec := capfile.Record{
				Sec:     hdr.Sec,
				SubSec:  hdr.SubSec,
				CapLen:  hdr.SnapLen,
				Len:     hdr.Len,
				Ifindex: hdr.Ifindex,
				PktType: hdr.PktType,
				Payload: payload,
			}
			if err := rot.Current().WriteRecord(rec); err != nil {
				rx.Release(slot)
				stats.Elapsed = time.Since(start)
				return stats, fmt.Errorf("loop: rx-file write: %w", err)
			}
			rot.RecordAccepted(hdr.SnapLen)
			if d.PrintMode != dissect.ModeNone {
				if _, err := io.WriteString(out, dissect.Dissect(payload, d.LinkType, d.PrintMode)); err != nil {
					rx.Release(slot)
					stats.Elapsed = time.Since(start)
					return stats, fmt.Errorf("loop: rx-file print: %w", err)
				}
			}
			processed++
			stats.Out++
			stats.Bytes += uint64(hdr.SnapLen)
		} else {
			rot.RecordRejected()
		}
		rx.Release(slot)
		rx.Advance()
	}
	stats.Elapsed = time.Since(start)
	return stats, nil
}

// RunFileTX implements the file-to-TX replay loop: one record is decoded
// from in per iteration, honoring the filter by repeating the read until
// a record is accepted or the file hits EOF, then
// copied into a TX slot (randomized cursor if d is so configured). The
// flush-TX timer is armed so partially filled batches still get sent on a
// cadence instead of only at EOF.
func RunFileTX(in capfile.Backend, tx *ring.Ring, randomizeTX bool, pullInterval time.Duration, d Deps) (Stats, error) {
	d.State.SetTXFD(tx.FD())
	stop := d.State.ArmFlushTimer(pullInterval, tx.Flush)
	defer stop()

	start := time.Now()
	var stats Stats
	var processed uint64
	for !d.State.Stop() {
		if capReached(d.FrameCap, processed) {
			d.State.RequestStop()
			break
		}

		rec, eof, err := readUntilAccepted(in, d.Filter, &stats)
		if err != nil {
			stats.Elapsed = time.Since(start)
			return stats, fmt.Errorf("loop: file-tx read: %w", err)
		}
		if eof {
			d.State.RequestStop()
			break
		}

		for !tx.TXReady() {
			if d.State.Stop() {
				stats.Elapsed = time.Since(start)
				return stats, nil
			}
			if err := tx.Poll(); err != nil {
				stats.Elapsed = time.Since(start)
				return stats, fmt.Errorf("loop: file-tx poll: %w", err)
			}
		}
		slot := tx.Current()
		space := slot.PayloadAt(ring.TPacket2HdrLen, slot.Cap())
		n := copy(space, rec.Payload)
		if n < len(rec.Payload) {
			stats.Truncated++
		}
		slot.WriteHeader(ring.FrameHeader{
			Len:       rec.Len,
			SnapLen:   uint32(n),
			MacOffset: ring.TPacket2HdrLen,
		})
		tx.Publish(slot)
		if randomizeTX {
			tx.AdvanceRandom()
		} else {
			tx.Advance()
		}
		processed++
		stats.Out++
		stats.Bytes += uint64(n)
	}
	if err := tx.Flush(); err != nil {
		stats.Elapsed = time.Since(start)
		return stats, fmt.Errorf("loop: file-tx final flush: %w", err)
	}
	stats.Elapsed = time.Since(start)
	return stats, nil
}

// readUntilAccepted reads records from in, counting each as In, until one
// passes filter or the file reaches a clean EOF (capfile.ErrMalformed).
func readUntilAccepted(in capfile.Backend, filter *bpfrun.Program, stats *Stats) (rec capfile.Record, eof bool, err error) {
	for {
		rec, err = in.ReadRecord()
		if errors.Is(err, capfile.ErrMalformed) {
			return capfile.Record{}, true, nil
		}
		if err != nil {
			return capfile.Record{}, false, err
		}
		stats.In++
		if bpfrun.RunOrAccept(filter, rec.Payload, len(rec.Payload)) {
			return rec, false, nil
		}
	}
}

// RunRXTXBridge implements the RX-to-TX bridge loop: every accepted RX
// frame is copied straight into the paired TX ring and the flush-TX timer
// drains it, acting as a single-process tap/repeater. TX slot selection
// follows randomizeTX: sequential advance, or a uniform pick among slots
// other than the current one, spin-selecting until a ready slot turns up
// or the stop flag is set.
func RunRXTXBridge(rx, tx *ring.Ring, randomizeTX bool, pullInterval time.Duration, d Deps) (Stats, error) {
	d.State.SetTXFD(tx.FD())
	stop := d.State.ArmFlushTimer(pullInterval, tx.Flush)
	defer stop()

	start := time.Now()
	var stats Stats
	var processed uint64
	for !d.State.Stop() {
		if capReached(d.FrameCap, processed) {
			d.State.RequestStop()
			break
		}
		if !rx.RXReady() {
			if err := rx.Poll(); err != nil {
				stats.Elapsed = time.Since(start)
				return stats, fmt.Errorf("loop: bridge rx poll: %w", err)
			}
			continue
		}
		rxSlot := rx.Current()
		hdr := rxSlot.Header()
		if hdr.SnapLen > rx.Layout().FrameSize {
			stats.Skipped++
			rx.Release(rxSlot)
			rx.Advance()
			continue
		}
		stats.In++
		payload := rxSlot.Payload()
		if matchesPacketType(d.PacketType, hdr.PktType) && bpfrun.RunOrAccept(d.Filter, payload, int(hdr.SnapLen)) {
			for !tx.TXReady() {
				if d.State.Stop() {
					rx.Release(rxSlot)
					stats.Elapsed = time.Since(start)
					return stats, nil
				}
				if randomizeTX {
					tx.AdvanceRandom()
					continue
				}
				if err := tx.Poll(); err != nil {
					rx.Release(rxSlot)
					stats.Elapsed = time.Since(start)
					return stats, fmt.Errorf("loop: bridge tx poll: %w", err)
				}
			}
			txSlot := tx.Current()
			space := txSlot.PayloadAt(ring.TPacket2HdrLen, txSlot.Cap())
			n := copy(space, payload)
			if n < len(payload) {
				stats.Truncated++
			}
			txSlot.WriteHeader(ring.FrameHeader{
				Len:       hdr.Len,
				SnapLen:   uint32(n),
				MacOffset: ring.TPacket2HdrLen,
			})
			tx.Publish(txSlot)
			if randomizeTX {
				tx.AdvanceRandom()
			} else {
				tx.Advance()
			}
			processed++
			stats.Out++
			stats.Bytes += uint64(n)
		}
		rx.Release(rxSlot)
		rx.Advance()
	}
	if err := tx.Flush(); err != nil {
		stats.Elapsed = time.Since(start)
		return stats, fmt.Errorf("loop: bridge final flush: %w", err)
	}
	stats.Elapsed = time.Since(start)
	return stats, nil
}

// RecordSink accepts a decoded record, either by re-encoding it into
// another capture file (capfile.Backend.WriteRecord) or by rendering it
// as trafgen text (WriteTrafgen).
type RecordSink func(rec capfile.Record) error

// RunFileFileTranslate implements the fourth loop: decode every record
// from in and hand it to sink, stopping cleanly at EOF (ErrMalformed) or
// the frame cap.
func RunFileFileTranslate(in capfile.Backend, sink RecordSink, d Deps) (Stats, error) {
	start := time.Now()
	var stats Stats
	var processed uint64
	for !d.State.Stop() {
		if capReached(d.FrameCap, processed) {
			break
		}
		rec, err := in.ReadRecord()
		if errors.Is(err, capfile.ErrMalformed) {
			break
		}
		if err != nil {
			stats.Elapsed = time.Since(start)
			return stats, fmt.Errorf("loop: translate read: %w", err)
		}
		stats.In++
		if err := sink(rec); err != nil {
			stats.Elapsed = time.Since(start)
			return stats, fmt.Errorf("loop: translate write: %w", err)
		}
		processed++
		stats.Out++
		stats.Bytes += uint64(len(rec.Payload))
	}
	stats.Elapsed = time.Since(start)
	return stats, nil
}
