package capfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapExtendStep is how much the mapped backend grows the backing file by
// in one step, rather than truncating to the exact byte on every record.
const mapExtendStep = 4 << 20 // 4 MiB

// mappedBackend operates directly against a memory-mapped region of a
// regular file. It is never constructed for stdin/stdout: the dispatcher
// downgrades those to scatter/gather before a Backend is built.
type mappedBackend struct {
	flavorState
	f        *os.File
	write    bool
	mem      []byte
	mapSize  int64
	off      int64 // next unread/unwritten byte, logical file position
	fileSize int64 // bytes actually valid on disk (write mode only)
}

// NewMapped builds the mapped strategy over f. It returns ErrNotMappable if
// f does not back a regular, seekable, truncatable file — the caller must
// fall back to scatter/gather when the endpoint is stdin/stdout.
func NewMapped(f *os.File, forWrite bool) (Backend, error) {
	st, err := f.Stat()
	if err != nil || st.Mode()&os.ModeType != 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotMappable, f.Name())
	}
	b := &mappedBackend{f: f, write: forWrite}
	if !forWrite {
		b.fileSize = st.Size()
		if err := b.remap(st.Size()); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *mappedBackend) remap(size int64) error {
	if b.mem != nil {
		_ = unix.Munmap(b.mem)
		b.mem = nil
	}
	if size == 0 {
		return nil
	}
	prot := unix.PROT_READ
	if b.write {
		prot |= unix.PROT_WRITE
	}
	mem, err := unix.Mmap(int(b.f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("capfile: mmap: %w", err)
	}
	b.mem = mem
	b.mapSize = size
	return nil
}

// ensureCapacity grows the file (and remaps) in mapExtendStep strides
// until at least b.off+need bytes are mapped.
func (b *mappedBackend) ensureCapacity(need int64) error {
	if b.off+need <= b.mapSize {
		return nil
	}
	newSize := b.mapSize
	if newSize == 0 {
		newSize = mapExtendStep
	}
	for b.off+need > newSize {
		newSize += mapExtendStep
	}
	if err := b.f.Truncate(newSize); err != nil {
		return fmt.Errorf("capfile: extend file: %w", err)
	}
	return b.remap(newSize)
}

func (b *mappedBackend) ReadHeader() (GlobalHeader, error) {
	if int64(len(b.mem)) < GlobalHeaderSize {
		return GlobalHeader{}, ErrMalformed
	}
	hdr, err := DecodeGlobalHeader(b.mem[:GlobalHeaderSize])
	if err != nil {
		return GlobalHeader{}, err
	}
	if err := b.adopt(hdr); err != nil {
		return GlobalHeader{}, err
	}
	b.off = GlobalHeaderSize
	return hdr, nil
}

func (b *mappedBackend) WriteHeader(hdr GlobalHeader) error {
	if err := b.adopt(hdr); err != nil {
		return err
	}
	if err := b.ensureCapacity(GlobalHeaderSize); err != nil {
		return err
	}
	copy(b.mem[0:GlobalHeaderSize], hdr.Encode())
	b.off = GlobalHeaderSize
	b.fileSize = GlobalHeaderSize
	return nil
}

func (b *mappedBackend) ReadRecord() (Record, error) {
	hdrSize := int64(HdrSize(b.flavor))
	if b.off+hdrSize > int64(len(b.mem)) {
		return Record{}, ErrMalformed
	}
	rec, err := DecodeRecordHeader(b.order, b.flavor, b.mem[b.off:b.off+hdrSize])
	if err != nil {
		return Record{}, err
	}
	payloadEnd := b.off + hdrSize + int64(rec.CapLen)
	if payloadEnd > int64(len(b.mem)) {
		return Record{}, ErrMalformed
	}
	// Zero-copy: the mapped backend hands back a window straight into the
	// file mapping, never a fresh allocation.
	rec.Payload = b.mem[b.off+hdrSize : payloadEnd]
	b.off = payloadEnd
	return rec, nil
}

func (b *mappedBackend) WriteRecord(r Record) error {
	hdrSize := int64(HdrSize(b.flavor))
	total := hdrSize + int64(len(r.Payload))
	if err := b.ensureCapacity(total); err != nil {
		return err
	}
	buf := EncodeRecord(b.order, b.flavor, r)
	n := copy(b.mem[b.off:b.off+total], buf)
	if int64(n) != total {
		return fmt.Errorf("capfile: short mapped write (%d of %d bytes)", n, total)
	}
	b.off += total
	b.fileSize = b.off
	return nil
}

func (b *mappedBackend) Flush() error {
	if b.mem == nil {
		return nil
	}
	if err := unix.Msync(b.mem, unix.MS_SYNC); err != nil {
		return fmt.Errorf("capfile: msync: %w", err)
	}
	if b.write {
		if err := b.f.Truncate(b.fileSize); err != nil {
			return fmt.Errorf("capfile: trim trailing reservation: %w", err)
		}
	}
	return b.f.Sync()
}

func (b *mappedBackend) Close() error {
	if b.write {
		if err := b.Flush(); err != nil {
			return err
		}
	}
	if b.mem != nil {
		_ = unix.Munmap(b.mem)
		b.mem = nil
	}
	return b.f.Close()
}
