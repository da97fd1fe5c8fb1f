package capfile

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestGlobalHeaderRoundTrip(t *testing.T) {
	for _, magic := range []Magic{MagicUsec, MagicNsec, MagicKuznetzov, MagicBorkmann} {
		hdr := DefaultGlobalHeader(magic, 65535, 1)
		decoded, err := DecodeGlobalHeader(hdr.Encode())
		require.NoError(t, err)
		require.Equal(t, hdr, decoded)
	}
}

func TestResolveRejectsUnknownMagic(t *testing.T) {
	_, _, err := Resolve(0xdeadbeef)
	require.ErrorIs(t, err, ErrMagic)
}

func TestParseMagic(t *testing.T) {
	cases := map[string]Magic{
		"":          MagicNsec,
		"nsec":      MagicNsec,
		"usec":      MagicUsec,
		"kuznetzov": MagicKuznetzov,
		"borkmann":  MagicBorkmann,
	}
	for name, want := range cases {
		got, err := ParseMagic(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseMagic("bogus")
	require.Error(t, err)
}

func TestRecordRoundTripAllFlavors(t *testing.T) {
	cases := []struct {
		name   string
		flavor Flavor
		order  binary.ByteOrder
	}{
		{"usec-le", FlavorUsec, binary.LittleEndian},
		{"nsec-be", FlavorNsec, binary.BigEndian},
		{"kuznetzov-le", FlavorKuznetzov, binary.LittleEndian},
		{"borkmann-le", FlavorBorkmann, binary.LittleEndian},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := Record{
				Sec:     1700000000,
				SubSec:  12345,
				CapLen:  4,
				Len:     64,
				Ifindex: 2,
				Proto:   0x0800,
				PktType: 1,
				CPU:     3,
				TSC:     0xABCDEF,
				Payload: []byte{0xde, 0xad, 0xbe, 0xef},
			}
			buf := EncodeRecord(c.order, c.flavor, rec)
			hdrSize := HdrSize(c.flavor)
			decoded, err := DecodeRecordHeader(c.order, c.flavor, buf[:hdrSize])
			require.NoError(t, err)
			decoded.Payload = buf[hdrSize:]

			require.Equal(t, rec.Sec, decoded.Sec)
			require.Equal(t, rec.SubSec, decoded.SubSec)
			require.Equal(t, rec.CapLen, decoded.CapLen)
			require.Equal(t, rec.Len, decoded.Len)
			if c.flavor == FlavorKuznetzov || c.flavor == FlavorBorkmann {
				require.Equal(t, rec.Ifindex, decoded.Ifindex)
				require.Equal(t, rec.Proto, decoded.Proto)
				require.Equal(t, rec.PktType, decoded.PktType)
				require.Equal(t, rec.CPU, decoded.CPU)
			}
			if c.flavor == FlavorBorkmann {
				require.Equal(t, rec.TSC, decoded.TSC)
			}
			if diff := cmp.Diff(rec.Payload, decoded.Payload); diff != "" {
				t.Fatalf("payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeRecordHeaderRejectsZeroCapLen(t *testing.T) {
	rec := Record{Sec: 1, SubSec: 1, CapLen: 0, Len: 10}
	buf := EncodeRecord(binary.LittleEndian, FlavorUsec, rec)
	_, err := DecodeRecordHeader(binary.LittleEndian, FlavorUsec, buf)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestBufferedBackendRoundTrip(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cap-*.pcap")
	require.NoError(t, err)

	w := NewBuffered(f, true)
	require.NoError(t, w.WriteHeader(DefaultGlobalHeader(MagicNsec, 65535, 1)))
	want := []Record{
		{Sec: 1, SubSec: 2, CapLen: 3, Len: 3, Payload: []byte{1, 2, 3}},
		{Sec: 4, SubSec: 5, CapLen: 2, Len: 2, Payload: []byte{9, 8}},
	}
	for _, r := range want {
		require.NoError(t, w.WriteRecord(r))
	}
	require.NoError(t, w.Close())

	rf, err := os.Open(f.Name())
	require.NoError(t, err)
	defer rf.Close()

	r := NewBuffered(rf, false)
	hdr, err := r.ReadHeader()
	require.NoError(t, err)
	require.Equal(t, MagicNsec, hdr.Magic)

	for _, exp := range want {
		got, err := r.ReadRecord()
		require.NoError(t, err)
		require.Equal(t, exp.Sec, got.Sec)
		require.Equal(t, exp.CapLen, got.CapLen)
		require.Equal(t, exp.Payload, got.Payload)
	}
	_, err = r.ReadRecord()
	require.ErrorIs(t, err, ErrMalformed, "reading past EOF is treated as a clean, Malformed-tagged end")
}

func TestScatterGatherBoundaryCrossing(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cap-sg-*.pcap")
	require.NoError(t, err)

	w := NewScatterGather(f, true, false)
	require.NoError(t, w.WriteHeader(DefaultGlobalHeader(MagicUsec, 65535, 1)))

	bufCap := sgBufCap(false)
	// A payload sized to straddle exactly one buffer boundary.
	big := make([]byte, bufCap-HdrSize(FlavorUsec)-4)
	for i := range big {
		big[i] = byte(i)
	}
	straddle := Record{Sec: 1, SubSec: 1, CapLen: uint32(len(big)), Len: uint32(len(big)), Payload: big}
	require.NoError(t, w.WriteRecord(straddle))
	small := Record{Sec: 2, SubSec: 2, CapLen: 8, Len: 8, Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	require.NoError(t, w.WriteRecord(small))
	require.NoError(t, w.Close())

	rf, err := os.Open(f.Name())
	require.NoError(t, err)
	defer rf.Close()

	r := NewScatterGather(rf, false, false)
	_, err = r.ReadHeader()
	require.NoError(t, err)

	got1, err := r.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, big, got1.Payload, "bytes read back across the buffer boundary must match what was written")

	got2, err := r.ReadRecord()
	require.NoError(t, err)
	require.Equal(t, small.Payload, got2.Payload)
}
