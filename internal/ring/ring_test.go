//go:build linux

package ring

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRing(frameSize, frameNr uint32) *Ring {
	return &Ring{
		fd:  -1,
		mem: make([]byte, int(frameSize)*int(frameNr)),
		layout: Layout{
			FrameSize: frameSize,
			FrameNr:   frameNr,
			BlockSize: frameSize * frameNr,
			BlockNr:   1,
		},
	}
}

func TestSlotHeaderRoundTrip(t *testing.T) {
	r := newTestRing(256, 4)
	s := r.Current()

	s.WriteHeader(FrameHeader{
		Len:       64,
		SnapLen:   64,
		MacOffset: uint16(TPacket2HdrLen),
	})
	copy(s.PayloadAt(TPacket2HdrLen, 64), []byte("hello-world-payload-bytes-here!"))

	h := s.Header()
	require.EqualValues(t, 64, h.Len)
	require.EqualValues(t, 64, h.SnapLen)
	require.EqualValues(t, TPacket2HdrLen, h.MacOffset)
}

func TestOwnershipProtocol(t *testing.T) {
	r := newTestRing(128, 2)

	require.False(t, r.RXReady(), "fresh slot starts kernel-owned, not ready for RX")

	r.Current().writeStatus(StatusUser)
	require.True(t, r.RXReady())

	r.Release(r.Current())
	require.False(t, r.RXReady(), "release must hand the slot back to the kernel")
}

func TestAdvanceWraps(t *testing.T) {
	r := newTestRing(64, 3)
	require.EqualValues(t, 0, r.Cursor())
	r.Advance()
	require.EqualValues(t, 1, r.Cursor())
	r.Advance()
	r.Advance()
	require.EqualValues(t, 0, r.Cursor(), "advance must wrap modulo frame_nr")
}

func TestAdvanceRandomNeverRepeatsWithMoreThanOneSlot(t *testing.T) {
	r := newTestRing(64, 8)
	r.rng = rand.New(rand.NewSource(1))

	for i := 0; i < 100; i++ {
		cur := r.Cursor()
		r.AdvanceRandom()
		require.NotEqual(t, cur, r.Cursor())
		require.Less(t, r.Cursor(), r.layout.FrameNr)
	}
}

func TestAdvanceRandomSingleSlotIsNoop(t *testing.T) {
	r := newTestRing(64, 1)
	r.AdvanceRandom()
	require.EqualValues(t, 0, r.Cursor())
}

func TestFrameSizeForRoundsUpToJumbo(t *testing.T) {
	small := frameSizeFor(128, false)
	jumbo := frameSizeFor(128, true)
	require.Greater(t, jumbo, small, "jumbo must reserve a larger per-frame capacity")
}
