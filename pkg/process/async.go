package process

import (
	"context"
	"time"
)

// RunHandle tracks a background run.
type RunHandle struct {
	done chan struct{}
	err  error
}

// RunAsync starts Run on a new goroutine. Unit outputs read before the
// handle completes may belong to the previous run or to a pass in progress.
// Waiting with a timeout does not stop the run; cancel ctx for that, which
// takes effect between units.
func (p *Process) RunAsync(ctx context.Context) *RunHandle {
	h := &RunHandle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = p.Run(ctx)
	}()
	return h
}

// Done is closed when the run returns.
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run finishes or timeout elapses. A non-positive
// timeout waits indefinitely. done is false when the wait timed out.
func (h *RunHandle) Wait(timeout time.Duration) (done bool, err error) {
	if timeout <= 0 {
		<-h.done
		return true, h.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return true, h.err
	case <-timer.C:
		return false, nil
	}
}

// Err returns the run error once finished, nil while running.
func (h *RunHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}
