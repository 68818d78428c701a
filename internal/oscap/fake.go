package oscap

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"
)

// Fake is an in-process, non-syscall-backed capability set for unit tests:
// plain Go maps and slices standing in for kernel/shared-memory state.
type Fake struct {
	mu      sync.Mutex
	regions map[string]*fakeRegion
	nextFD  int
	byFD    map[int]*fakeRegion
	typed   map[string]bool // path -> typed-memory membership, default true
	modes   map[string]os.FileMode
}

type fakeRegion struct {
	path string
	data []byte
	refs int
}

// NewFake returns an empty Fake capability set. By default every region is
// considered typed memory; call MarkUntyped to simulate the validator
// rejection path.
func NewFake() *Fake {
	return &Fake{
		regions: make(map[string]*fakeRegion),
		byFD:    make(map[int]*fakeRegion),
		typed:   make(map[string]bool),
		modes:   make(map[string]os.FileMode),
		nextFD:  3,
	}
}

func (f *Fake) MarkUntyped(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[path] = false
}

func (f *Fake) OpenOrCreate(path string, size int, perm os.FileMode, owner bool) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	region, exists := f.regions[path]
	created := false
	if !exists {
		region = &fakeRegion{path: path, data: make([]byte, size)}
		f.regions[path] = region
		f.modes[path] = perm
		created = true
	} else if owner {
		region.data = make([]byte, size)
	}
	region.refs++
	fd := f.nextFD
	f.nextFD++
	f.byFD[fd] = region
	if _, ok := f.typed[path]; !ok {
		f.typed[path] = true
	}
	return fd, created, nil
}

func (f *Fake) Unlink(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.regions, path)
	delete(f.modes, path)
	return nil
}

func (f *Fake) Map(fd int, size int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	region, ok := f.byFD[fd]
	if !ok {
		return nil, syscall.EBADF
	}
	if len(region.data) < size {
		grown := make([]byte, size)
		copy(grown, region.data)
		region.data = grown
	}
	return region.data[:size], nil
}

func (f *Fake) Unmap(b []byte) error { return nil }

func (f *Fake) Close(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	region, ok := f.byFD[fd]
	if !ok {
		return syscall.EBADF
	}
	region.refs--
	delete(f.byFD, fd)
	return nil
}

func (f *Fake) IsSharedMemoryTypedFD(fd int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	region, ok := f.byFD[fd]
	if !ok {
		return false, syscall.EBADF
	}
	return f.typed[region.path], nil
}

func (f *Fake) IsSharedMemoryTypedPath(path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.regions[path]; !ok {
		return false, syscall.ENOENT
	}
	return f.typed[path], nil
}

func (f *Fake) GetFileDescriptorFromMemoryPath(path string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	region, ok := f.regions[path]
	if !ok {
		return -1, syscall.ENOENT
	}
	fd := f.nextFD
	f.nextFD++
	f.byFD[fd] = region
	return fd, nil
}

// FakeTimer fires after the real wall-clock duration (deterministic enough
// for unit tests that use small durations), mirroring PosixTimer's shape.
type FakeTimer struct{}

func (FakeTimer) After(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}

// FakeDispatch resolves every name to itself.
type FakeDispatch struct{}

func (FakeDispatch) OpenByName(name string) (string, error) { return name, nil }
func (FakeDispatch) CloseByName(name string) error           { return nil }

// FakeProcess returns a fixed pid, useful for deterministic metadata-region
// naming in tests.
type FakeProcess struct{ PID int }

func (p FakeProcess) Getpid() int { return p.PID }

// FakeACL records permission changes without touching the filesystem.
type FakeACL struct {
	mu    sync.Mutex
	modes map[string]os.FileMode
}

func NewFakeACL() *FakeACL { return &FakeACL{modes: make(map[string]os.FileMode)} }

func (a *FakeACL) SetDefaultACL(path string, mode os.FileMode) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.modes[path] = mode
	return nil
}

func (a *FakeACL) GetMode(path string) (os.FileMode, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mode, ok := a.modes[path]
	if !ok {
		return 0, fmt.Errorf("oscap: no recorded mode for %s", path)
	}
	return mode, nil
}
