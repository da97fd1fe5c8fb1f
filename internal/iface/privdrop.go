package iface

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrPrivDrop reports that the process could not switch to the
// configured unprivileged uid/gid. Fatal at setup.
var ErrPrivDrop = fmt.Errorf("iface: privilege drop failed")

// DropPrivileges switches the process to gid/uid, in that order (group
// must drop first: once the uid change takes effect, the process no
// longer has permission to change its gid). uid == -1 or gid == -1 skips
// the respective call. Must run after every privileged call the setup
// path makes (ring creation, promiscuous toggle, monitor-mode entry,
// IRQ binding) and before the loop starts — never the reverse, since a
// dropped process can't re-acquire the privilege to undo it.
func DropPrivileges(uid, gid int) error {
	if gid >= 0 {
		if err := unix.Setgid(gid); err != nil {
			return fmt.Errorf("%w: setgid(%d): %v", ErrPrivDrop, gid, err)
		}
	}
	if uid >= 0 {
		if err := unix.Setuid(uid); err != nil {
			return fmt.Errorf("%w: setuid(%d): %v", ErrPrivDrop, uid, err)
		}
	}
	if uid >= 0 && os.Geteuid() != uid {
		return fmt.Errorf("%w: effective uid still %d after setuid(%d)", ErrPrivDrop, os.Geteuid(), uid)
	}
	return nil
}
