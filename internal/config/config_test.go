package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePacketType(t *testing.T) {
	cases := map[string]PacketType{
		"":          PacketTypeAll,
		"all":       PacketTypeAll,
		"host":      PacketTypeHost,
		"broadcast": PacketTypeBroadcast,
		"multicast": PacketTypeMulticast,
		"others":    PacketTypeOtherHost,
		"outgoing":  PacketTypeOutgoing,
	}
	for name, want := range cases {
		got, err := ParsePacketType(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParsePacketType("bogus")
	require.Error(t, err)
}

func TestParseRotateInterval(t *testing.T) {
	cases := map[string]int64{
		"30s":   30,
		"45sec": 45,
		"5min":  300,
		"2hrs":  7200,
	}
	for in, want := range cases {
		got, err := ParseRotateInterval(in)
		require.NoError(t, err)
		require.Equal(t, want, got.Seconds)
	}
}

func TestParseRotateIntervalRejectsGarbage(t *testing.T) {
	_, err := ParseRotateInterval("not-a-duration")
	require.Error(t, err)
	_, err = ParseRotateInterval("-5s")
	require.Error(t, err)
}

func TestValidateRequiresInput(t *testing.T) {
	c := Default()
	require.Error(t, c.Validate())
	c.In = "eth0"
	require.NoError(t, c.Validate())
}

func TestValidateSizeModeRequiresRotateSize(t *testing.T) {
	c := Default()
	c.In = "eth0"
	c.RotateMode = RotateBySize
	require.Error(t, c.Validate())
	c.RotateSize = 1 << 20
	require.NoError(t, c.Validate())
}

func TestValidateTimeModeRequiresInterval(t *testing.T) {
	c := Default()
	c.In = "eth0"
	c.RotateMode = RotateByTime
	require.Error(t, c.Validate())
	c.RotateInterval.Seconds = 60
	require.NoError(t, c.Validate())
}

func TestLoadConfigDecodesKnownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pcapcore.yaml")
	const body = `
in: eth0
out: /tmp/out.pcap
magic: usec
snaplen: 9000
promisc: true
cpu: 2
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	fc, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "eth0", *fc.In)
	require.Equal(t, "/tmp/out.pcap", *fc.Out)
	require.Equal(t, "usec", *fc.Magic)
	require.EqualValues(t, 9000, *fc.SnapLen)
	require.True(t, *fc.Promiscuous)
	require.Equal(t, 2, *fc.CPUBind)
	require.Nil(t, fc.Jumbo)
}

func TestLoadConfigMissingFileFails(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	c := Default()
	log, err := c.NewLogger()
	require.NoError(t, err)
	require.NotNil(t, log)

	c.Verbose = true
	log, err = c.NewLogger()
	require.NoError(t, err)
	require.NotNil(t, log)

	c.LogLevel = "shouting"
	_, err = c.NewLogger()
	require.Error(t, err)
}
