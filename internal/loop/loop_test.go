//go:build linux

package loop

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Bracksun/netsniff-ng/internal/bpfrun"
	"github.com/Bracksun/netsniff-ng/internal/capfile"
	"github.com/Bracksun/netsniff-ng/internal/config"
	"github.com/Bracksun/netsniff-ng/internal/runtime"
)

func TestMatchesPacketType(t *testing.T) {
	require.True(t, matchesPacketType(config.PacketTypeAll, 3))
	require.True(t, matchesPacketType(config.PacketTypeHost, 0))
	require.False(t, matchesPacketType(config.PacketTypeHost, 1))
}

func TestCapReached(t *testing.T) {
	require.False(t, capReached(0, 1_000_000), "zero cap means unbounded")
	require.False(t, capReached(10, 9))
	require.True(t, capReached(10, 10))
}

func TestWriteTrafgenFormatsTenPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := WriteTrafgen(&buf)
	rec := capfile.Record{Payload: []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}}
	require.NoError(t, sink(rec))

	out := buf.String()
	require.Contains(t, out, "{\n")
	require.Contains(t, out, "0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09,\n")
	require.Contains(t, out, "0x0a, 0x0b\n}\n\n")
}

func TestRunFileFileTranslateStopsOnFrameCap(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/in.pcap"
	f, err := os.Create(path)
	require.NoError(t, err)

	hdr := capfile.DefaultGlobalHeader(capfile.MagicUsec, 65535, 1)
	backend := capfile.NewBuffered(f, true)
	require.NoError(t, backend.WriteHeader(hdr))
	for i := 0; i < 5; i++ {
		require.NoError(t, backend.WriteRecord(capfile.Record{Sec: 1, CapLen: 3, Len: 3, Payload: []byte{1, 2, 3}}))
	}
	require.NoError(t, backend.Close())

	rf, err := os.Open(path)
	require.NoError(t, err)
	defer rf.Close()
	reader := capfile.NewBuffered(rf, false)
	_, err = reader.ReadHeader()
	require.NoError(t, err)

	state := runtime.New()
	defer state.Close()

	var count int
	sink := func(rec capfile.Record) error {
		count++
		return nil
	}
	stats, err := RunFileFileTranslate(reader, sink, Deps{State: state, FrameCap: 3})
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.EqualValues(t, 3, stats.In)
	require.EqualValues(t, 3, stats.Out)
}

func TestRunFileFileTranslateStopsAtEOF(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/in.pcap"
	f, err := os.Create(path)
	require.NoError(t, err)

	hdr := capfile.DefaultGlobalHeader(capfile.MagicUsec, 65535, 1)
	backend := capfile.NewBuffered(f, true)
	require.NoError(t, backend.WriteHeader(hdr))
	require.NoError(t, backend.WriteRecord(capfile.Record{Sec: 1, CapLen: 2, Len: 2, Payload: []byte{9, 9}}))
	require.NoError(t, backend.Close())

	rf, err := os.Open(path)
	require.NoError(t, err)
	defer rf.Close()
	reader := capfile.NewBuffered(rf, false)
	_, err = reader.ReadHeader()
	require.NoError(t, err)

	state := runtime.New()
	defer state.Close()

	var got []capfile.Record
	stats, err := RunFileFileTranslate(reader, func(rec capfile.Record) error {
		got = append(got, rec)
		return nil
	}, Deps{State: state})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.EqualValues(t, 1, stats.In)
	require.EqualValues(t, 1, stats.Out)
}

func TestReadUntilAcceptedSkipsRejectedRecords(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/in.pcap"
	f, err := os.Create(path)
	require.NoError(t, err)

	hdr := capfile.DefaultGlobalHeader(capfile.MagicUsec, 65535, 1)
	backend := capfile.NewBuffered(f, true)
	require.NoError(t, backend.WriteHeader(hdr))
	require.NoError(t, backend.WriteRecord(capfile.Record{Sec: 1, CapLen: 1, Len: 1, Payload: []byte{0}}))
	require.NoError(t, backend.WriteRecord(capfile.Record{Sec: 1, CapLen: 1, Len: 1, Payload: []byte{0}}))
	require.NoError(t, backend.WriteRecord(capfile.Record{Sec: 1, CapLen: 1, Len: 1, Payload: []byte{7}}))
	require.NoError(t, backend.Close())

	rf, err := os.Open(path)
	require.NoError(t, err)
	defer rf.Close()
	reader := capfile.NewBuffered(rf, false)
	_, err = reader.ReadHeader()
	require.NoError(t, err)

	// BPF_LD|BPF_B|BPF_ABS k=0; BPF_JMP|BPF_JEQ|BPF_K k=7 jt=1 jf=0; BPF_RET k=0; BPF_RET k=65535
	prog, err := bpfrun.Parse("48 0 0 0\n21 1 0 7\n6 0 0 0\n6 0 0 65535", 1)
	require.NoError(t, err)

	var stats Stats
	rec, eof, err := readUntilAccepted(reader, prog, &stats)
	require.NoError(t, err)
	require.False(t, eof)
	require.Equal(t, []byte{7}, rec.Payload)
	require.EqualValues(t, 3, stats.In, "rejected reads still count toward In")

	_, eof, err = readUntilAccepted(reader, prog, &stats)
	require.NoError(t, err)
	require.True(t, eof)
}
