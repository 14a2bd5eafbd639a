//go:build !windows

package loader

import "golang.org/x/sys/unix"

// syncToDisk forces the kernel to flush the freshly copied library's
// dirty pages before dlopen maps it — the same durability concern the
// teacher raises about mmap'd files (internal/core.Process): a dlopen
// racing the page cache on a fresh copy must not be able to observe a
// partial write.
func syncToDisk(fd uintptr) error {
	return unix.Fsync(int(fd))
}
