package dissect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModeNoneProducesNoOutput(t *testing.T) {
	require.Empty(t, Dissect([]byte{1, 2, 3}, 1, ModeNone))
}

func TestHexDumpFormatsRows(t *testing.T) {
	out := Dissect(make([]byte, 20), 1, ModeHex)
	require.True(t, strings.HasPrefix(out, "0000  "))
	require.Contains(t, out, "0010  ")
}

func TestASCIIDumpEscapesNonPrintable(t *testing.T) {
	out := Dissect([]byte{0x41, 0x00, 0x42}, 1, ModeASCII)
	require.Equal(t, "A.B\n", out)
}

func TestHexASCIIDumpPairsBothViews(t *testing.T) {
	out := Dissect([]byte("hello"), 1, ModeHexASCII)
	require.Contains(t, out, "68 65 6c 6c 6f")
	require.Contains(t, out, "|hello|")
}

func TestLessModeSummarizesLayers(t *testing.T) {
	out := Dissect(make([]byte, 14), 1, ModeLess)
	require.Contains(t, out, "bytes:")
}
