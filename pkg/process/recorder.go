package process

import (
	"context"
	"time"
)

// RunRecorder observes process runs. Implementations must be safe for use
// from the goroutine running the process.
type RunRecorder interface {
	RunStarted(ctx context.Context, run RunInfo)
	UnitEvaluated(ctx context.Context, ev UnitEvent)
	PassCompleted(ctx context.Context, ev PassEvent)
	RunFinished(ctx context.Context, run RunInfo, err error)
}

// RunInfo summarizes one run.
type RunInfo struct {
	ID        string    `json:"id"`
	Process   string    `json:"process"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished,omitempty"`
	Units     int       `json:"units"`
	Recycles  int       `json:"recycles"`
	Passes    int       `json:"passes"`
	Converged bool      `json:"converged"`
}

// UnitEvent reports one unit evaluation.
type UnitEvent struct {
	RunID   string
	Pass    int
	Unit    string
	Type    UnitType
	Elapsed time.Duration
	Err     error
}

// PassEvent reports the end of a pass.
type PassEvent struct {
	RunID     string
	Pass      int
	Recycles  []RecycleStatus
	Converged bool
}

// RecycleStatus is the convergence state of one recycle binding.
type RecycleStatus struct {
	Name          string  `json:"name" msgpack:"name"`
	Iterations    int     `json:"iterations" msgpack:"iterations"`
	Residual      float64 `json:"residual" msgpack:"residual"`
	Tolerance     float64 `json:"tolerance" msgpack:"tolerance"`
	MaxIterations int     `json:"max_iterations" msgpack:"max_iterations"`
	Converged     bool    `json:"converged" msgpack:"converged"`
}
