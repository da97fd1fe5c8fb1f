package dispatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Bracksun/netsniff-ng/internal/capfile"
)

// loopbackOrSkip returns a live interface name for Classify to recognize,
// skipping the test on hosts without one.
func loopbackOrSkip(t *testing.T) string {
	t.Helper()
	if _, err := os.Stat("/sys/class/net/lo"); err != nil {
		t.Skip("no loopback interface visible under /sys/class/net")
	}
	return "lo"
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "out.pcap")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	require.Equal(t, KindAbsent, Classify(""))
	require.Equal(t, KindFile, Classify("-"))
	require.Equal(t, KindDir, Classify(dir))
	require.Equal(t, KindFile, Classify(file))
	require.Equal(t, KindFile, Classify(filepath.Join(dir, "not-yet-created.pcap")))
}

func TestDispatchDecisionTable(t *testing.T) {
	lo := loopbackOrSkip(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "trace.pcap")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	cases := []struct {
		name        string
		in, out     string
		wantLoop    Loop
		wantBackend capfile.Strategy
		wantTimer   Timer
	}{
		{"rx-dump", lo, "", LoopRXDump, capfile.ScatterGather, TimerNone},
		{"bridge", lo, lo, LoopRXTXBridge, capfile.ScatterGather, TimerFlushTX},
		{"rx-file", lo, file, LoopRXFile, capfile.ScatterGather, TimerNone},
		{"file-tx", file, lo, LoopFileTX, capfile.Mapped, TimerFlushTX},
		{"translate", file, file, LoopFileFileTranslate, capfile.ScatterGather, TimerNone},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			plan, err := Dispatch(c.in, c.out, capfile.ScatterGather, false, false)
			require.NoError(t, err)
			require.Equal(t, c.wantLoop, plan.Loop)
			require.Equal(t, c.wantBackend, plan.Backend)
			require.Equal(t, c.wantTimer, plan.Timer)
		})
	}
}

func TestDispatchRotatedDump(t *testing.T) {
	lo := loopbackOrSkip(t)
	dir := t.TempDir()

	plan, err := Dispatch(lo, dir, capfile.ScatterGather, false, true)
	require.NoError(t, err)
	require.Equal(t, LoopRXFile, plan.Loop)
	require.True(t, plan.RotateDir)
	require.Equal(t, TimerRotate, plan.Timer)

	plan, err = Dispatch(lo, dir, capfile.ScatterGather, false, false)
	require.NoError(t, err)
	require.Equal(t, TimerNone, plan.Timer, "size-mode rotation must never arm the rotate timer")
}

func TestDispatchDowngradesMappedForStdin(t *testing.T) {
	lo := loopbackOrSkip(t)

	plan, err := Dispatch("-", lo, capfile.Mapped, true, false)
	require.NoError(t, err)
	require.Equal(t, LoopFileTX, plan.Loop)
	require.Equal(t, capfile.ScatterGather, plan.Backend, "a stream has no mappable region; mmap silently degrades to sg")
}

func TestDispatchHonorsExplicitBackend(t *testing.T) {
	lo := loopbackOrSkip(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "trace.pcap")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	plan, err := Dispatch(lo, file, capfile.Buffered, true, false)
	require.NoError(t, err)
	require.Equal(t, capfile.Buffered, plan.Backend)

	plan, err = Dispatch(file, lo, capfile.ScatterGather, true, false)
	require.NoError(t, err)
	require.Equal(t, capfile.ScatterGather, plan.Backend, "explicit choice wins over the file-tx mmap default")
}

func TestDispatchRejectsFileToNothing(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "trace.pcap")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := Dispatch(file, "", capfile.ScatterGather, false, false)
	require.Error(t, err)

	_, err = Dispatch("", "", capfile.ScatterGather, false, false)
	require.Error(t, err)
}
