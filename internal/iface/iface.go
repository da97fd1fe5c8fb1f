// Package iface implements interface control: ifindex lookup and MTU
// probing via vishvananda/netlink, IRQ→CPU binding through /proc, and an
// 802.11 monitor-mode capability probe. Promiscuous mode is toggled on the
// ring socket (internal/ring), not here.
package iface

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"

	"github.com/Bracksun/netsniff-ng/internal/ring"
)

// Info is what the dispatcher and loops need to know about an interface
// before opening a ring against it.
type Info struct {
	Name  string
	Index int
	MTU   int
	IsUp  bool
}

// Lookup resolves name to its ifindex and MTU, returning ring.ErrNoDevice
// if the interface does not exist or is administratively down.
func Lookup(name string) (Info, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %v", ring.ErrNoDevice, name, err)
	}
	attrs := link.Attrs()
	if attrs.Flags&net.FlagUp == 0 {
		return Info{}, fmt.Errorf("%w: %s is administratively down", ring.ErrNoDevice, name)
	}
	up := attrs.OperState == netlink.OperUp
	return Info{
		Name:  name,
		Index: attrs.Index,
		MTU:   attrs.MTU,
		IsUp:  up,
	}, nil
}

// IRQForInterface best-effort-resolves name's primary IRQ number by
// scanning /proc/interrupts for a line whose trailing description
// mentions the interface name, the way `grep <name> /proc/interrupts`
// does by hand. Multi-queue NICs list one IRQ per queue; the first match
// is used.
func IRQForInterface(name string) (int, error) {
	f, err := os.Open("/proc/interrupts")
	if err != nil {
		return 0, fmt.Errorf("iface: open /proc/interrupts: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, name) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		irq, err := strconv.Atoi(strings.TrimSuffix(fields[0], ":"))
		if err != nil {
			continue
		}
		return irq, nil
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("iface: scan /proc/interrupts: %w", err)
	}
	return 0, fmt.Errorf("iface: no IRQ found for %s", name)
}

// BindIRQToCPU binds the interface's IRQ affinity to the given CPU. It is
// a no-op for the two sentinels -1 (none) and -2 (do-not-touch-IRQ). Real
// affinity steering goes through /proc/irq/<n>/smp_affinity and is
// best-effort: a failure here is logged by the caller, never fatal, since
// it is a performance tweak and not correctness-affecting.
func BindIRQToCPU(irq int, cpu int) error {
	if cpu == -1 || cpu == -2 {
		return nil
	}
	path := fmt.Sprintf("/proc/irq/%d/smp_affinity", irq)
	mask := strconv.FormatUint(1<<uint(cpu), 16)
	return os.WriteFile(path, []byte(mask), 0o644)
}

// EnterMonitorMode probes whether name is backed by an 802.11 PHY
// (/sys/class/net/<name>/phy80211) and reports the result as capable,
// with a nil error either way. It does not switch the interface into
// monitor mode and does not change the effective link type, for a
// wireless link or any other.
func EnterMonitorMode(name string) (capable bool, err error) {
	if _, err := os.Stat("/sys/class/net/" + name + "/phy80211"); err != nil {
		return false, nil
	}
	return true, nil
}

// LeaveMonitorMode is EnterMonitorMode's teardown counterpart; always
// safe to call even if EnterMonitorMode reported capable == false.
func LeaveMonitorMode(name string) error {
	return nil
}
