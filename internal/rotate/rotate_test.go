package rotate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Bracksun/netsniff-ng/internal/capfile"
	"github.com/Bracksun/netsniff-ng/internal/runtime"
)

func bufferedOpener(f *os.File) (capfile.Backend, error) {
	return capfile.NewBuffered(f, true), nil
}

func TestSizeModeRotatesAfterThreshold(t *testing.T) {
	dir := t.TempDir()
	state := runtime.New()
	defer state.Close()

	hdr := capfile.DefaultGlobalHeader(capfile.MagicUsec, 65535, 1)
	r := New(dir, "dump-", BySize, 100, hdr, bufferedOpener, state, nil, false)
	require.NoError(t, r.Open())

	r.RecordAccepted(60)
	require.NoError(t, r.MaybeRotate())
	require.False(t, state.RotateNow(), "rotate_now must clear once acted on")

	r.RecordAccepted(60) // crosses the 100-byte threshold
	require.True(t, state.RotateNow())
	require.NoError(t, r.MaybeRotate())
	require.False(t, state.RotateNow())

	require.NoError(t, r.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "threshold crossing must produce a second file")
	for _, e := range entries {
		info, err := os.Stat(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		require.GreaterOrEqual(t, info.Size(), int64(capfile.GlobalHeaderSize))
	}
}

func TestTimeModeRotatesOnFlag(t *testing.T) {
	dir := t.TempDir()
	state := runtime.New()
	defer state.Close()

	hdr := capfile.DefaultGlobalHeader(capfile.MagicUsec, 65535, 1)
	r := New(dir, "", ByTime, 0, hdr, bufferedOpener, state, nil, false)
	require.NoError(t, r.Open())

	require.NoError(t, r.MaybeRotate())
	entries, _ := os.ReadDir(dir)
	require.Len(t, entries, 1, "no rotation without rotate_now set")

	state.SetRotateNow()
	require.NoError(t, r.MaybeRotate())
	require.NoError(t, r.Close())

	entries, _ = os.ReadDir(dir)
	require.Len(t, entries, 2)
}
