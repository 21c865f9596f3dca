//go:build !linux

package credential

// lockMemory is a no-op on platforms where we have no syscall binding for
// page-pinning; the handle still wipes on release, it just isn't
// swap-protected.
func lockMemory(buf []byte) error   { return nil }
func unlockMemory(buf []byte) error { return nil }
