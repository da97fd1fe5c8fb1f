package iface

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Bracksun/netsniff-ng/internal/ring"
)

func TestLookupUnknownInterfaceReturnsNoDevice(t *testing.T) {
	_, err := Lookup("pcapcore-test-nonexistent-iface-zz")
	require.ErrorIs(t, err, ring.ErrNoDevice)
}

func TestBindIRQToCPUSkipsSentinels(t *testing.T) {
	require.NoError(t, BindIRQToCPU(1, -1)) // none
	require.NoError(t, BindIRQToCPU(1, -2)) // leave IRQ affinity alone
}

func TestEnterMonitorModeOnNonWirelessIsNoop(t *testing.T) {
	capable, err := EnterMonitorMode("pcapcore-test-nonexistent-iface-zz")
	require.NoError(t, err)
	require.False(t, capable)
}

func TestLeaveMonitorModeAlwaysSucceeds(t *testing.T) {
	require.NoError(t, LeaveMonitorMode("anything"))
}

func TestIRQForInterfaceUnknownNameReturnsError(t *testing.T) {
	_, err := IRQForInterface("pcapcore-test-nonexistent-iface-zz")
	require.Error(t, err)
}
