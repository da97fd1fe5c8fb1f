package capfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// sgPoolSize is V, the number of aligned buffers in the pool.
const sgPoolSize = 1024

// sgBufCap is one buffer's capacity: 3 pages normally, 16 pages for jumbo
// frames.
func sgBufCap(jumbo bool) int {
	page := unix.Getpagesize()
	if jumbo {
		return 16 * page
	}
	return 3 * page
}

// sgBackend is the scatter/gather strategy: a fixed pool of V aligned
// buffers, refilled or flushed with a single readv/writev, handling
// records that straddle at most two adjacent buffers.
type sgBackend struct {
	flavorState
	f     *os.File
	write bool

	bufs []([]byte) // V preallocated buffers, len == cap == bufCap
	used []int      // write mode: bytes written into bufs[i] so far
	fill []int      // read mode: valid bytes read into bufs[i]
	cur  int        // index of the buffer currently being drained/filled
	off  int        // offset within bufs[cur]

	started bool
	eof     bool
}

// NewScatterGather builds the scatter/gather strategy over f. Unlike
// Mapped, it works against any file descriptor, including pipes.
func NewScatterGather(f *os.File, forWrite bool, jumbo bool) Backend {
	bufCap := sgBufCap(jumbo)
	bufs := make([][]byte, sgPoolSize)
	for i := range bufs {
		bufs[i] = make([]byte, bufCap)
	}
	return &sgBackend{
		f:     f,
		write: forWrite,
		bufs:  bufs,
		used:  make([]int, sgPoolSize),
		fill:  make([]int, sgPoolSize),
		cur:   0,
	}
}

// refill performs the single readv that repopulates every buffer in the
// pool, triggered when the cursor wraps off the pool's end.
func (b *sgBackend) refill() error {
	n, err := unix.Readv(int(b.f.Fd()), b.bufs)
	if err != nil {
		return fmt.Errorf("capfile: readv: %w", err)
	}
	remaining := n
	for i := range b.fill {
		take := remaining
		if take > len(b.bufs[i]) {
			take = len(b.bufs[i])
		}
		b.fill[i] = take
		remaining -= take
	}
	b.cur = 0
	b.off = 0
	b.eof = n == 0
	return nil
}

// readBytes returns exactly want bytes from the stream. It copies across
// at most one buffer boundary, per the pool's invariant.
func (b *sgBackend) readBytes(want int) ([]byte, error) {
	if !b.started {
		b.started = true
		if err := b.refill(); err != nil {
			return nil, err
		}
	}
	avail := b.fill[b.cur] - b.off
	if avail <= 0 {
		if b.eof {
			return nil, ErrMalformed
		}
		if err := b.advanceBuffer(); err != nil {
			return nil, err
		}
		avail = b.fill[b.cur] - b.off
		if avail <= 0 {
			return nil, ErrMalformed
		}
	}
	if want <= avail {
		out := b.bufs[b.cur][b.off : b.off+want]
		b.off += want
		return out, nil
	}

	out := make([]byte, 0, want)
	out = append(out, b.bufs[b.cur][b.off:b.fill[b.cur]]...)
	if err := b.advanceBuffer(); err != nil {
		return nil, err
	}
	remainder := want - len(out)
	if b.fill[b.cur]-b.off < remainder {
		return nil, ErrMalformed
	}
	out = append(out, b.bufs[b.cur][b.off:b.off+remainder]...)
	b.off += remainder
	return out, nil
}

// advanceBuffer moves to the next buffer slot, refilling the whole pool
// with one readv when the cursor wraps off the pool's end.
func (b *sgBackend) advanceBuffer() error {
	b.cur++
	b.off = 0
	if b.cur >= sgPoolSize {
		return b.refill()
	}
	return nil
}

func (b *sgBackend) ReadHeader() (GlobalHeader, error) {
	raw, err := b.readBytes(GlobalHeaderSize)
	if err != nil {
		return GlobalHeader{}, err
	}
	hdr, err := DecodeGlobalHeader(raw)
	if err != nil {
		return GlobalHeader{}, err
	}
	if err := b.adopt(hdr); err != nil {
		return GlobalHeader{}, err
	}
	return hdr, nil
}

func (b *sgBackend) WriteHeader(hdr GlobalHeader) error {
	if err := b.adopt(hdr); err != nil {
		return err
	}
	return b.writeBytes(hdr.Encode())
}

func (b *sgBackend) ReadRecord() (Record, error) {
	hdrRaw, err := b.readBytes(HdrSize(b.flavor))
	if err != nil {
		return Record{}, err
	}
	rec, err := DecodeRecordHeader(b.order, b.flavor, hdrRaw)
	if err != nil {
		return Record{}, err
	}
	if rec.CapLen > uint32(len(b.bufs[0])) {
		return Record{}, ErrMalformed
	}
	payload, err := b.readBytes(int(rec.CapLen))
	if err != nil {
		return Record{}, err
	}
	rec.Payload = append([]byte(nil), payload...)
	return rec, nil
}

// writeBytes appends p to the current buffer, splitting across at most one
// boundary and flushing the full pool via one writev once it fills.
func (b *sgBackend) writeBytes(p []byte) error {
	bufCap := len(b.bufs[b.cur])
	remaining := bufCap - b.used[b.cur]
	if len(p) <= remaining {
		copy(b.bufs[b.cur][b.used[b.cur]:], p)
		b.used[b.cur] += len(p)
		return nil
	}

	copy(b.bufs[b.cur][b.used[b.cur]:], p[:remaining])
	b.used[b.cur] = bufCap
	b.cur++
	if b.cur >= sgPoolSize {
		if err := b.flushFull(); err != nil {
			return err
		}
	}
	rest := p[remaining:]
	if len(rest) > len(b.bufs[b.cur]) {
		return fmt.Errorf("capfile: record exceeds scatter/gather buffer capacity")
	}
	copy(b.bufs[b.cur][:len(rest)], rest)
	b.used[b.cur] = len(rest)
	return nil
}

func (b *sgBackend) WriteRecord(r Record) error {
	buf := EncodeRecord(b.order, b.flavor, r)
	return b.writeBytes(buf)
}

// flushFull writes every buffer in the pool (each at full capacity) with
// one writev and resets the pool to empty.
func (b *sgBackend) flushFull() error {
	n, err := unix.Writev(int(b.f.Fd()), b.bufs)
	if err != nil {
		return fmt.Errorf("capfile: writev: %w", err)
	}
	want := 0
	for _, buf := range b.bufs {
		want += len(buf)
	}
	if n != want {
		return fmt.Errorf("capfile: short writev (%d of %d bytes)", n, want)
	}
	for i := range b.used {
		b.used[i] = 0
	}
	b.cur = 0
	return nil
}

// Flush emits the partial pool — buffers [0:cur] plus the bytes used so
// far in bufs[cur] — via one writev, then fdatasyncs.
func (b *sgBackend) Flush() error {
	if !b.write {
		return nil
	}
	n := b.cur
	if b.used[b.cur] > 0 {
		n++
	}
	if n == 0 {
		return b.f.Sync()
	}
	iov := make([][]byte, n)
	for i := 0; i < n; i++ {
		iov[i] = b.bufs[i][:b.used[i]]
	}
	want := 0
	for _, buf := range iov {
		want += len(buf)
	}
	if want > 0 {
		wrote, err := unix.Writev(int(b.f.Fd()), iov)
		if err != nil {
			return fmt.Errorf("capfile: writev flush: %w", err)
		}
		if wrote != want {
			return fmt.Errorf("capfile: short writev flush (%d of %d bytes)", wrote, want)
		}
	}
	for i := range b.used {
		b.used[i] = 0
	}
	b.cur = 0
	if err := unix.Fdatasync(int(b.f.Fd())); err != nil {
		return fmt.Errorf("capfile: fdatasync: %w", err)
	}
	return nil
}

func (b *sgBackend) Close() error {
	if b.write {
		if err := b.Flush(); err != nil {
			return err
		}
	}
	return b.f.Close()
}
