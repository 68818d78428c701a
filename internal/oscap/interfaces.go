// Package oscap collects the OS-level capabilities the tracing client core
// treats as injected collaborators: shared memory, typed-memory validation,
// the IPC channel transport, timers, dispatch-by-name, process identity, and
// access control on shared-memory files. Production code talks to Linux
// through golang.org/x/sys/unix; tests talk to an in-process fake.
package oscap

import (
	"os"
	"time"
)

// SharedMemory opens, creates, and maps named shared-memory regions.
type SharedMemory interface {
	// OpenOrCreate opens path if it exists, or creates it at the given size
	// with the given permissions otherwise. owner indicates the caller is
	// responsible for lifecycle (truncate-if-nonempty on open).
	OpenOrCreate(path string, size int, perm os.FileMode, owner bool) (fd int, created bool, err error)
	// Unlink removes the named shared-memory object.
	Unlink(path string) error
	// Map maps fd for read/write access.
	Map(fd int, size int) ([]byte, error)
	// Unmap releases a previously mapped region.
	Unmap(b []byte) error
	// Close closes fd.
	Close(fd int) error
}

// MemoryValidator resolves paths to file descriptors and queries whether a
// shared-memory region belongs to a kernel-registered typed-memory pool.
type MemoryValidator interface {
	IsSharedMemoryTypedFD(fd int) (bool, error)
	IsSharedMemoryTypedPath(path string) (bool, error)
	GetFileDescriptorFromMemoryPath(path string) (int, error)
}

// Timer arms a relative timeout against a monotonic clock.
type Timer interface {
	// After returns a channel that receives once d elapses. Calling cancel
	// before then stops the timer: the channel then never receives and is
	// not closed.
	After(d time.Duration) (ch <-chan time.Time, cancel func())
}

// Dispatch resolves and releases the daemon's published service name into a
// transport-specific address (here, a Unix-domain-socket path).
type Dispatch interface {
	OpenByName(name string) (addr string, err error)
	CloseByName(name string) error
}

// Process exposes process identity.
type Process interface {
	Getpid() int
}

// ACL sets and queries access control on a shared-memory file.
type ACL interface {
	SetDefaultACL(path string, mode os.FileMode) error
	GetMode(path string) (os.FileMode, error)
}
