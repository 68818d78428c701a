//go:build iouring
// +build iouring

// IOUringNotifier is an optional accelerated wake path for the consumer
// side of the ring: instead of the Background Worker discovering a Ready
// slot only on its next tick, a producer's Fill pings an eventfd that an
// io_uring-submitted IORING_OP_POLL_ADD request is already waiting on,
// collapsing the wake latency to a single completion queue entry.
package ring

import (
	"fmt"

	"github.com/iceber/iouring-go"
	iouring_syscall "github.com/iceber/iouring-go/syscall"
	"golang.org/x/sys/unix"
)

// IOUringNotifier owns the eventfd pinged by Ring.Fill and the io_uring
// instance used to wait on it.
type IOUringNotifier struct {
	ring *iouring.IOURing
	fd   int
}

// NewIOUringNotifier creates the eventfd and an io_uring instance sized for
// a single outstanding poll request.
func NewIOUringNotifier(entries uint) (*IOUringNotifier, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("ring: eventfd: %w", err)
	}
	r, err := iouring.New(entries)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ring: io_uring new: %w", err)
	}
	return &IOUringNotifier{ring: r, fd: fd}, nil
}

// FD returns the eventfd a Ring should be armed with via SetNotifyFD.
func (n *IOUringNotifier) FD() int { return n.fd }

func (n *IOUringNotifier) prepPollAdd(userData uint64) iouring.PrepRequest {
	return func(sqe iouring_syscall.SubmissionQueueEntry, udata *iouring.UserData) {
		sqe.PrepOperation(iouring_syscall.IORING_OP_POLL_ADD, int32(n.fd), 0, unix.POLLIN, 0)
		sqe.SetUserData(userData)
	}
}

// Wait blocks until the eventfd becomes readable, then drains its counter
// so the next Wait blocks again.
func (n *IOUringNotifier) Wait() error {
	ch := make(chan iouring.Result)
	if _, err := n.ring.SubmitRequest(n.prepPollAdd(1), ch); err != nil {
		return fmt.Errorf("ring: submit poll: %w", err)
	}
	result := <-ch
	if _, err := result.ReturnInt(); err != nil {
		return err
	}
	if err := result.Err(); err != nil {
		return err
	}
	var buf [8]byte
	_, _ = unix.Read(n.fd, buf[:])
	return nil
}

// Close releases the io_uring instance and the eventfd.
func (n *IOUringNotifier) Close() error {
	n.ring.Close()
	return unix.Close(n.fd)
}
