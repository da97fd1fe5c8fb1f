// Package rotate implements the output-file rotator: created only when
// the output path is a directory and dump-to-pcap is active, driven by
// either a timer tick (time mode) or a cumulative-byte threshold (size
// mode).
package rotate

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Bracksun/netsniff-ng/internal/capfile"
	"github.com/Bracksun/netsniff-ng/internal/runtime"
)

// Mode selects the rotator's trigger.
type Mode int

const (
	ByTime Mode = iota
	BySize
)

// BackendOpener builds a capfile.Backend for writing over a freshly
// opened, truncated file. The loop supplies it so the rotator stays
// independent of which I/O strategy (buffered/mapped/sg) is in play.
type BackendOpener func(f *os.File) (capfile.Backend, error)

// Rotator owns the current output file: on rotate_now it closes the
// current file, computes the next name at the moment of rotation (not
// upfront), and opens it truncated with a fresh global header.
type Rotator struct {
	dir    string
	prefix string
	mode   Mode

	state    *runtime.State
	opener   BackendOpener
	hdr      capfile.GlobalHeader
	log      *zap.SugaredLogger
	verbose  bool

	sizeThreshold uint64
	bytesThisFile uint64

	current Backend
	good    int
	bad     int
}

// Backend is an alias of capfile.Backend, the interface the rotator drives.
type Backend = capfile.Backend

// New builds a Rotator. sizeThreshold is only consulted when mode ==
// BySize.
func New(dir, prefix string, mode Mode, sizeThreshold uint64, hdr capfile.GlobalHeader, opener BackendOpener, state *runtime.State, log *zap.SugaredLogger, verbose bool) *Rotator {
	return &Rotator{
		dir:           dir,
		prefix:        prefix,
		mode:          mode,
		state:         state,
		opener:        opener,
		hdr:           hdr,
		log:           log,
		verbose:       verbose,
		sizeThreshold: sizeThreshold,
	}
}

// Open creates and opens the first output file.
func (r *Rotator) Open() error {
	return r.rotate()
}

// Current returns the backend currently accepting writes.
func (r *Rotator) Current() Backend { return r.current }

// RecordAccepted counts a written record for the per-rotation +good/-bad
// summary and, in size mode, accumulates the byte counter; when the
// cumulative total exceeds the threshold, it sets rotate_now. The counter
// resets when the rotation happens.
func (r *Rotator) RecordAccepted(capLen uint32) {
	r.good++
	if r.mode == BySize {
		r.bytesThisFile += uint64(capLen)
		if r.bytesThisFile > r.sizeThreshold {
			r.state.SetRotateNow()
		}
	}
}

// RecordRejected counts a filter-dropped record for the verbose
// per-rotation +good/-bad summary.
func (r *Rotator) RecordRejected() { r.bad++ }

// MaybeRotate rotates if rotate_now is set, clearing the flag once acted
// on. It is a no-op otherwise.
func (r *Rotator) MaybeRotate() error {
	if !r.state.RotateNow() {
		return nil
	}
	if err := r.rotate(); err != nil {
		return err
	}
	r.state.ClearRotateNow()
	return nil
}

func (r *Rotator) rotate() error {
	if r.current != nil {
		if err := r.current.Flush(); err != nil {
			return fmt.Errorf("rotate: flush previous file: %w", err)
		}
		if err := r.current.Close(); err != nil {
			return fmt.Errorf("rotate: close previous file: %w", err)
		}
		if r.verbose && r.log != nil {
			r.log.Infof("rotated: +%d/-%d", r.good, r.bad)
		}
	}

	// The file name is produced at the moment of rotation, never upfront.
	// A rotation within the same second as an existing file gets a "-<n>"
	// suffix instead of truncating that file.
	stamp := time.Now().Unix()
	path := filepath.Join(r.dir, fmt.Sprintf("%s%d.pcap", r.prefix, stamp))
	for seq := 1; ; seq++ {
		if _, err := os.Lstat(path); err != nil {
			break
		}
		path = filepath.Join(r.dir, fmt.Sprintf("%s%d-%d.pcap", r.prefix, stamp, seq))
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("rotate: open %s: %w", path, err)
	}

	backend, err := r.opener(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("rotate: open backend for %s: %w", path, err)
	}
	if err := backend.WriteHeader(r.hdr); err != nil {
		_ = backend.Close()
		return fmt.Errorf("rotate: write header for %s: %w", path, err)
	}

	if r.log != nil {
		r.log.Debugw("rotated output file", "path", path)
	}

	r.current = backend
	r.bytesThisFile = 0
	r.good, r.bad = 0, 0
	return nil
}

// Close flushes and closes the current output file, if any.
func (r *Rotator) Close() error {
	if r.current == nil {
		return nil
	}
	if err := r.current.Flush(); err != nil {
		return err
	}
	return r.current.Close()
}
