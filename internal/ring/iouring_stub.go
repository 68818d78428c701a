//go:build !iouring
// +build !iouring

package ring

import "fmt"

// IOUringNotifier is the stub form of the optional io_uring consumer wake
// path, available when built with -tags iouring.
type IOUringNotifier struct{}

// NewIOUringNotifier always fails in a build without the iouring tag.
func NewIOUringNotifier(entries uint) (*IOUringNotifier, error) {
	return nil, fmt.Errorf("ring: iouring not enabled; build with -tags iouring")
}

func (n *IOUringNotifier) FD() int      { return -1 }
func (n *IOUringNotifier) Wait() error  { return fmt.Errorf("ring: iouring not enabled") }
func (n *IOUringNotifier) Close() error { return nil }
