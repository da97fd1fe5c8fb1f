package bpfrun

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestParseAndRunAcceptAll(t *testing.T) {
	// BPF_RET|BPF_K, k=65535: always return up to 65535 bytes, i.e. accept.
	prog, err := Parse("6 0 0 65535", 1)
	require.NoError(t, err)
	require.True(t, Run(prog, []byte{1, 2, 3}, 3))
}

func TestParseAndRunDropAll(t *testing.T) {
	// BPF_RET|BPF_K, k=0: always return 0 bytes, i.e. reject.
	prog, err := Parse("6 0 0 0", 1)
	require.NoError(t, err)
	require.False(t, Run(prog, []byte{1, 2, 3}, 3))
}

func TestParseIgnoresCommentsAndBraces(t *testing.T) {
	src := "// header\n{ 0x6, 0, 0, 0xffff },\n# trailing comment\n"
	prog, err := Parse(src, 1)
	require.NoError(t, err)
	require.True(t, Run(prog, []byte{0xAA}, 1))
}

func TestParseRejectsMalformedLine(t *testing.T) {
	_, err := Parse("6 0 0", 1)
	require.Error(t, err)
}

func TestParseRejectsEmptyProgram(t *testing.T) {
	_, err := Parse("\n\n", 1)
	require.Error(t, err)
}

func TestRunOrAcceptWithNilProgramAcceptsEverything(t *testing.T) {
	require.True(t, RunOrAccept(AcceptAll(), []byte{1}, 1))
}

func TestSockFilterMirrorsRawInstructions(t *testing.T) {
	prog, err := Parse("48 0 0 0\n21 0 1 7\n6 0 0 0\n6 0 0 65535", 1)
	require.NoError(t, err)

	sf := prog.SockFilter()
	require.Len(t, sf, 4)
	require.Equal(t, []unix.SockFilter{
		{Code: 48, Jt: 0, Jf: 0, K: 0},
		{Code: 21, Jt: 0, Jf: 1, K: 7},
		{Code: 6, Jt: 0, Jf: 0, K: 0},
		{Code: 6, Jt: 0, Jf: 0, K: 65535},
	}, sf)
}

func TestPurity(t *testing.T) {
	prog, err := Parse("6 0 0 65535", 1)
	require.NoError(t, err)
	data := []byte{1, 2, 3, 4}
	snapshot := append([]byte(nil), data...)
	Run(prog, data, len(data))
	require.Equal(t, snapshot, data, "the filter runner must never mutate its input")
}
