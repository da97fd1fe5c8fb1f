//go:build linux

package ring

import (
	"fmt"
	"math/rand"

	"golang.org/x/sys/unix"
)

// Layout is the kernel-chosen slot/block geometry plus the array of slots
// it is carved into.
type Layout struct {
	BlockSize uint32
	BlockNr   uint32
	FrameSize uint32
	FrameNr   uint32
}

// Direction distinguishes an RX ring (kernel produces, user consumes) from
// a TX ring (user produces, kernel consumes).
type Direction int

const (
	RX Direction = iota
	TX
)

// Ring wraps one AF_PACKET mmap'd ring: either the RX or the TX side, never
// both (a bridge loop owns one of each).
type Ring struct {
	fd     int
	dir    Direction
	layout Layout
	mem    []byte
	cursor uint32
	rng    *rand.Rand
}

const defaultBlockNr = 64

// minReserveSize is the smallest ring reserve size Open will accept; below
// this a single block can't hold a full frame, so it is an ErrConfig.
const minReserveSize = 1 << 12

// frameSizeFor computes the TPACKET2-aligned per-frame size for a given
// snaplen: the header plus address block and the snaplen, each rounded up
// to the 16-byte TPACKET alignment. Jumbo (or a zero snaplen) raises the
// payload part to at least 64 KiB. Open then doubles the page-sized block
// until one frame fits.
func frameSizeFor(snaplen uint32, jumbo bool) uint32 {
	cap := snaplen
	if jumbo {
		if cap < 1<<16 {
			cap = 1 << 16
		}
	} else if cap == 0 {
		cap = 1 << 16
	}
	return tpAlign(uint32(TPacket2HdrLen)) + tpAlign(cap)
}

func tpAlign(v uint32) uint32 {
	const align = 16
	return (v + align - 1) &^ (align - 1)
}

// Open creates and maps an AF_PACKET ring bound to ifindex, in direction
// dir. reserveSize is the requested total ring footprint in bytes; Open
// chooses block_size = max(reserveSize-derived, frame_size) and lays out
// frame_nr frames across it.
func Open(dir Direction, ifindex int, reserveSize uint64, snaplen uint32, jumbo bool) (*Ring, error) {
	if reserveSize != 0 && reserveSize < minReserveSize {
		return nil, fmt.Errorf("%w: reserve size %d below minimum %d", ErrConfig, reserveSize, minReserveSize)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, htons(unix.ETH_P_ALL))
	if err != nil {
		return nil, fmt.Errorf("ring: open raw socket: %w", err)
	}
	closeOnErr := true
	defer func() {
		if closeOnErr {
			unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_VERSION, unix.TPACKET_V2); err != nil {
		return nil, fmt.Errorf("%w: set TPACKET_V2: %v", ErrConfig, err)
	}

	// Best-effort supporting options: hardware timestamps on RX, discard of
	// malformed frames on TX instead of a per-frame error. Neither is
	// required for correctness, so failures are ignored.
	if dir == RX {
		_ = unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_TIMESTAMP, unix.SOF_TIMESTAMPING_RAW_HARDWARE)
	} else {
		_ = unix.SetsockoptInt(fd, unix.SOL_PACKET, unix.PACKET_LOSS, 1)
	}

	frameSize := frameSizeFor(snaplen, jumbo)
	blockSize := uint32(unix.Getpagesize())
	for blockSize < frameSize {
		blockSize <<= 1
	}
	blockNr := uint32(defaultBlockNr)
	if reserveSize != 0 {
		total := uint32(reserveSize)
		framesPerBlock := blockSize / frameSize
		if framesPerBlock == 0 {
			return nil, fmt.Errorf("%w: frame size %d exceeds block size %d", ErrConfig, frameSize, blockSize)
		}
		blockNr = total / blockSize
		if blockNr == 0 {
			blockNr = 1
		}
	}
	framesPerBlock := blockSize / frameSize
	frameNr := blockNr * framesPerBlock

	req := unix.TpacketReq{
		Block_size: blockSize,
		Block_nr:   blockNr,
		Frame_size: frameSize,
		Frame_nr:   frameNr,
	}

	opt := unix.PACKET_RX_RING
	if dir == TX {
		opt = unix.PACKET_TX_RING
	}
	if err := unix.SetsockoptTpacketReq(fd, unix.SOL_PACKET, opt, &req); err != nil {
		return nil, fmt.Errorf("%w: configure ring: %v", ErrConfig, err)
	}

	total := int(blockSize) * int(blockNr)
	mem, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ring: mmap: %w", err)
	}

	sa := unix.SockaddrLinklayer{
		Protocol: uint16(htons(unix.ETH_P_ALL)),
		Ifindex:  ifindex,
	}
	if ifindex > 0 {
		if err := unix.Bind(fd, &sa); err != nil {
			unix.Munmap(mem)
			return nil, fmt.Errorf("%w: bind to ifindex %d: %v", ErrNoDevice, ifindex, err)
		}
	}

	closeOnErr = false
	return &Ring{
		fd:  fd,
		dir: dir,
		layout: Layout{
			BlockSize: blockSize,
			BlockNr:   blockNr,
			FrameSize: frameSize,
			FrameNr:   frameNr,
		},
		mem: mem,
		rng: rand.New(rand.NewSource(0xC0FFEE)),
	}, nil
}

// htons converts a 16-bit value to network byte order, the way the
// reference TPACKET setup does (AF_PACKET protocol fields are big-endian
// regardless of host endianness).
func htons(v int) int {
	return int(uint16(v)<<8 | uint16(v)>>8)
}

// FD exposes the underlying socket descriptor. The timer plane needs it
// for the flush-TX handler and the RX loop needs it for its one
// suspension point, poll.
func (r *Ring) FD() int { return r.fd }

// Layout returns the ring's slot/block geometry.
func (r *Ring) Layout() Layout { return r.layout }

// Cursor returns the current iteration index, [0, FrameNr).
func (r *Ring) Cursor() uint32 { return r.cursor }

func (r *Ring) slotAt(i uint32) Slot {
	off := int(i) * int(r.layout.FrameSize)
	return newSlot(r.mem[off : off+int(r.layout.FrameSize)])
}

// Current returns the slot at the ring's current cursor position.
func (r *Ring) Current() Slot { return r.slotAt(r.cursor) }

// SlotAt returns an arbitrary slot by index, used by the randomized TX
// cursor.
func (r *Ring) SlotAt(i uint32) Slot { return r.slotAt(i % r.layout.FrameNr) }

// RXReady reports whether the current slot carries TP_STATUS_USER, i.e.
// the kernel has published a frame for the user side to consume.
func (r *Ring) RXReady() bool {
	return r.Current().readStatus()&StatusUser != 0
}

// TXReady reports whether the current slot is TP_STATUS_KERNEL, i.e. free
// for the user side to fill and publish.
func (r *Ring) TXReady() bool {
	return r.Current().readStatus() == StatusKernel
}

// Release returns an RX slot to the kernel (TP_STATUS_KERNEL).
func (r *Ring) Release(s Slot) {
	s.writeStatus(StatusKernel)
}

// Publish hands a filled TX slot to the kernel (TP_STATUS_SEND_REQUEST).
func (r *Ring) Publish(s Slot) {
	s.writeStatus(StatusSendRequest)
}

// Advance moves the cursor to the next slot, wrapping modulo frame_nr.
func (r *Ring) Advance() {
	r.cursor = (r.cursor + 1) % r.layout.FrameNr
}

// AdvanceRandom moves the cursor to a uniformly random slot different from
// the current one. Used only on TX under randomize mode; a high-quality
// RNG is not needed here.
func (r *Ring) AdvanceRandom() {
	if r.layout.FrameNr <= 1 {
		return
	}
	cur := r.cursor
	var next uint32
	for {
		next = uint32(r.rng.Int63n(int64(r.layout.FrameNr)))
		if next != cur {
			break
		}
	}
	r.cursor = next
}

// Poll blocks, with no timeout, until the ring's socket is readable,
// retrying when the call is interrupted (EINTR); it is the loop's one
// suspension point.
func (r *Ring) Poll() error {
	fds := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("ring: poll: %w", err)
		}
		if n < 0 {
			return fmt.Errorf("ring: poll returned %d", n)
		}
		return nil
	}
}

// Flush drains as many published TX slots as possible with one
// send-equivalent syscall, the action the flush-TX timer handler performs.
func (r *Ring) Flush() error {
	err := unix.Send(r.fd, nil, unix.MSG_DONTWAIT)
	if err != nil && err != unix.EAGAIN && err != unix.ENOBUFS {
		return fmt.Errorf("ring: flush: %w", err)
	}
	return nil
}

// SetPromiscuous enables or disables PACKET_ADD_MEMBERSHIP/PACKET_MR_PROMISC
// on this ring's socket for the bound interface.
func (r *Ring) SetPromiscuous(ifindex int, enable bool) error {
	mreq := unix.PacketMreq{
		Ifindex: int32(ifindex),
		Type:    unix.PACKET_MR_PROMISC,
	}
	opt := unix.PACKET_ADD_MEMBERSHIP
	if !enable {
		opt = unix.PACKET_DROP_MEMBERSHIP
	}
	if err := unix.SetsockoptPacketMreq(r.fd, unix.SOL_PACKET, opt, &mreq); err != nil {
		return fmt.Errorf("ring: set promiscuous=%v: %w", enable, err)
	}
	return nil
}

// AttachFilter installs a classic BPF program on the RX socket
// (SO_ATTACH_FILTER), the kernel-side complement to internal/bpfrun's
// user-space filter.Run.
func (r *Ring) AttachFilter(prog []unix.SockFilter) error {
	sf := unix.SockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	}
	if err := unix.SetsockoptSockFprog(r.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &sf); err != nil {
		return fmt.Errorf("ring: attach filter: %w", err)
	}
	return nil
}

// Close unmaps the ring and closes its socket. Idempotent.
func (r *Ring) Close() error {
	if r.mem != nil {
		_ = unix.Munmap(r.mem)
		r.mem = nil
	}
	if r.fd >= 0 {
		err := unix.Close(r.fd)
		r.fd = -1
		if err != nil {
			return fmt.Errorf("ring: close: %w", err)
		}
	}
	return nil
}
