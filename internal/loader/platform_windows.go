//go:build windows

package loader

// syncToDisk is a no-op on Windows: os.File writes already go through
// CreateFile without the page-cache durability gap unix fsync closes.
func syncToDisk(fd uintptr) error { return nil }
