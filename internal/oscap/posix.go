package oscap

import (
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Posix is the Linux/POSIX implementation of the oscap capability set,
// backed directly by golang.org/x/sys/unix syscalls for shared memory
// that has no higher-level standard-library wrapper.
type Posix struct {
	// ShmDir is the directory backing named shared-memory objects
	// (Linux has no shm_open wrapper in x/sys/unix; shm_open itself is a
	// thin layer over a tmpfs mount, typically /dev/shm).
	ShmDir string
}

// NewPosix returns a Posix capability set rooted at /dev/shm.
func NewPosix() *Posix {
	return &Posix{ShmDir: "/dev/shm"}
}

func (p *Posix) shmPath(name string) string {
	return filepath.Join(p.ShmDir, filepath.Base(name))
}

func (p *Posix) OpenOrCreate(path string, size int, perm os.FileMode, owner bool) (int, bool, error) {
	full := p.shmPath(path)
	if owner {
		fd, err := unix.Open(full, unix.O_RDWR, uint32(perm))
		if err == nil {
			st := unix.Stat_t{}
			if serr := unix.Fstat(fd, &st); serr == nil && st.Size > 0 {
				if terr := unix.Ftruncate(fd, 0); terr != nil {
					unix.Close(fd)
					return -1, false, terr
				}
			}
			if terr := unix.Ftruncate(fd, int64(size)); terr != nil {
				unix.Close(fd)
				return -1, false, terr
			}
			return fd, false, nil
		}
		fd, err = unix.Open(full, unix.O_RDWR|unix.O_CREAT, uint32(perm))
		if err != nil {
			return -1, false, err
		}
		if terr := unix.Ftruncate(fd, int64(size)); terr != nil {
			unix.Close(fd)
			return -1, false, terr
		}
		return fd, true, nil
	}

	fd, err := unix.Open(full, unix.O_RDWR, uint32(perm))
	if err == nil {
		return fd, false, nil
	}
	fd, err = unix.Open(full, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, uint32(perm))
	if err == nil {
		if terr := unix.Ftruncate(fd, int64(size)); terr != nil {
			unix.Close(fd)
			return -1, false, terr
		}
		return fd, true, nil
	}
	if err == unix.EEXIST {
		fd, err = unix.Open(full, unix.O_RDWR, uint32(perm))
		if err != nil {
			return -1, false, err
		}
		return fd, false, nil
	}
	return -1, false, err
}

func (p *Posix) Unlink(path string) error {
	err := unix.Unlink(p.shmPath(path))
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *Posix) Map(fd int, size int) ([]byte, error) {
	return unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (p *Posix) Unmap(b []byte) error {
	return unix.Munmap(b)
}

func (p *Posix) Close(fd int) error {
	return unix.Close(fd)
}

// PosixTimer arms relative timeouts using time.Timer channels.
type PosixTimer struct{}

func (PosixTimer) After(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}

// PosixDispatch resolves a service name to a Unix-domain-socket path. This
// core has no registry to query, so the name is the path by convention.
type PosixDispatch struct{}

func (PosixDispatch) OpenByName(name string) (string, error) { return name, nil }
func (PosixDispatch) CloseByName(name string) error           { return nil }

// PosixProcess exposes the real process id.
type PosixProcess struct{}

func (PosixProcess) Getpid() int { return unix.Getpid() }

// PosixACL applies a plain Unix permission mask, which is the closest POSIX
// analogue available without a filesystem that supports richer ACLs.
type PosixACL struct {
	ShmDir string
}

func (a PosixACL) SetDefaultACL(path string, mode os.FileMode) error {
	dir := a.ShmDir
	if dir == "" {
		dir = "/dev/shm"
	}
	return os.Chmod(filepath.Join(dir, filepath.Base(path)), mode)
}

func (a PosixACL) GetMode(path string) (os.FileMode, error) {
	dir := a.ShmDir
	if dir == "" {
		dir = "/dev/shm"
	}
	st, err := os.Stat(filepath.Join(dir, filepath.Base(path)))
	if err != nil {
		return 0, err
	}
	return st.Mode().Perm(), nil
}

// PosixMemoryValidator approximates typed-memory membership. POSIX/Linux has
// no direct typed-memory-pool primitive; this probes whether the underlying
// filesystem is tmpfs (st_dev matches a known tmpfs mount), the practical
// equivalent for shared regions living under /dev/shm.
type PosixMemoryValidator struct {
	ShmDir string
}

func NewPosixMemoryValidator() *PosixMemoryValidator {
	return &PosixMemoryValidator{ShmDir: "/dev/shm"}
}

func (v *PosixMemoryValidator) IsSharedMemoryTypedFD(fd int) (bool, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return false, err
	}
	return v.devIsTmpfs(st.Dev)
}

func (v *PosixMemoryValidator) IsSharedMemoryTypedPath(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, err
	}
	return v.devIsTmpfs(st.Dev)
}

func (v *PosixMemoryValidator) GetFileDescriptorFromMemoryPath(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

func (v *PosixMemoryValidator) devIsTmpfs(dev uint64) (bool, error) {
	dir := v.ShmDir
	if dir == "" {
		dir = "/dev/shm"
	}
	var ref unix.Stat_t
	if err := unix.Stat(dir, &ref); err != nil {
		return false, err
	}
	return ref.Dev == dev, nil
}
