//go:build linux

package credential

import "golang.org/x/sys/unix"

// lockMemory pins buf's pages so the kernel never swaps secret material to
// disk. Best-effort: a process without CAP_IPC_LOCK (or over RLIMIT_MEMLOCK)
// gets ErrPermission back, which the caller logs and proceeds past — secrets
// still live for the shortest practical span, they're just not swap-pinned.
func lockMemory(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return unix.Mlock(buf)
}

func unlockMemory(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return unix.Munlock(buf)
}
