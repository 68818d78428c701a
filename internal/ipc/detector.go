package ipc

import (
	"time"

	"github.com/qorix-group/tracingclient/internal/wire"
)

// armDetector starts the detector goroutine. Linux/POSIX has no kernel
// pulse/signal primitive for a named peer's death, so this loop issues a
// lightweight DaemonProcessId request on its own cadence and treats a
// failed exchange as daemon death, invoking the subscribed termination
// callback.
func (c *Communicator) armDetector() error {
	c.detectorStop = make(chan struct{})
	c.detectorDone = make(chan struct{})
	go c.detectLoop(c.detectorStop, c.detectorDone)
	return nil
}

func (c *Communicator) detectLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.opts.LivenessProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.IsConnected() {
				return
			}
			if _, err := c.doRequest("Communicator.liveness", &wire.Request{Tag: wire.ReqDaemonProcessID}); err != nil {
				c.notifyDeath()
				return
			}
		}
	}
}

// notifyDeath invokes the subscribed termination callback at most once per
// daemon lifetime: the detector loop always exits immediately after, and a
// fresh Connect re-arms a fresh detector.
func (c *Communicator) notifyDeath() {
	c.opts.Logger.Warn("daemon liveness probe failed, treating as daemon death")
	c.termMu.RLock()
	cb := c.termCB
	c.termMu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (c *Communicator) stopDetector() {
	if c.detectorStop == nil {
		return
	}
	select {
	case <-c.detectorStop:
		// already closed
	default:
		close(c.detectorStop)
	}
	<-c.detectorDone
	c.detectorStop = nil
}
