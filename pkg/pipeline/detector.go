package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/recognition"
)

type detectFunc func(ctx context.Context, jpeg []byte) ([]recognition.Detection, error)

type detectRequest struct {
	frame int64
	data  []byte
}

type detectResult struct {
	frame      int64
	detections []recognition.Detection
	err        error
}

// asyncDetector runs the oracle on a worker goroutine. Submissions never
// block: a frame offered while the worker is busy is dropped. Only the most
// recent completed result is kept.
type asyncDetector struct {
	detect detectFunc
	in     chan detectRequest
	out    chan detectResult
	busy   atomic.Bool
	done   chan struct{}
}

func newAsyncDetector(detect detectFunc) *asyncDetector {
	return &asyncDetector{
		detect: detect,
		in:     make(chan detectRequest, 1),
		out:    make(chan detectResult, 1),
		done:   make(chan struct{}),
	}
}

func (d *asyncDetector) start(ctx context.Context) {
	go func() {
		defer close(d.done)
		for req := range d.in {
			dets, err := d.detect(ctx, req.data)

			// Replace any result the frame loop has not picked up yet.
			select {
			case <-d.out:
			default:
			}
			d.out <- detectResult{frame: req.frame, detections: dets, err: err}
			d.busy.Store(false)
		}
	}()
}

// submit hands a frame to the worker and reports whether it was accepted.
func (d *asyncDetector) submit(frame int64, data []byte) bool {
	if !d.busy.CompareAndSwap(false, true) {
		return false
	}
	d.in <- detectRequest{frame: frame, data: data}
	return true
}

// latest returns the newest completed result not yet consumed.
func (d *asyncDetector) latest() (detectResult, bool) {
	select {
	case r := <-d.out:
		return r, true
	default:
		return detectResult{}, false
	}
}

// stop ends the worker after any in-flight detection finishes. It gives up
// after timeout (zero waits forever) and reports whether the worker exited.
func (d *asyncDetector) stop(timeout time.Duration) bool {
	close(d.in)
	if timeout <= 0 {
		<-d.done
		return true
	}
	select {
	case <-d.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
