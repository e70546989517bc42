package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/pvt"
)

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = errors.New("not found")

// RunStatus represents the status of a process run
type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusUnconverged RunStatus = "unconverged"
	RunStatusFailed      RunStatus = "failed"
	RunStatusCancelled   RunStatus = "cancelled"
)

// Terminal reports whether the status ends a run.
func (s RunStatus) Terminal() bool {
	return s != RunStatusRunning
}

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one execution of a process.
type Run struct {
	ID          string     `json:"id"`
	Process     string     `json:"process"`
	Source      string     `json:"source"` // flowsheet file, empty for code-built processes
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Units       int        `json:"units"`
	Recycles    int        `json:"recycles"`
	Passes      int        `json:"passes"`
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// UnitResult is one unit evaluation within a pass.
type UnitResult struct {
	ID        int64         `json:"id"`
	RunID     string        `json:"run_id"`
	Pass      int           `json:"pass"`
	Unit      string        `json:"unit"`
	UnitType  string        `json:"unit_type"`
	Elapsed   time.Duration `json:"elapsed"`
	Error     *string       `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// RecyclePass is the state of one recycle binding at the end of a pass.
// Residual is nil until the binding has two snapshots to compare.
type RecyclePass struct {
	RunID         string   `json:"run_id"`
	Pass          int      `json:"pass"`
	Recycle       string   `json:"recycle"`
	Iterations    int      `json:"iterations"`
	Residual      *float64 `json:"residual,omitempty"`
	Tolerance     float64  `json:"tolerance"`
	MaxIterations int      `json:"max_iterations"`
	Converged     bool     `json:"converged"`
}

// PVTExperiment is the header row of a stored PVT result.
type PVTExperiment struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Kind         string             `json:"kind"`
	Temperature  *float64           `json:"temperature_k,omitempty"`
	Index        string             `json:"index"`
	Summary      map[string]float64 `json:"summary,omitempty"`
	FailedPoints int                `json:"failed_points"`
	StartedAt    time.Time          `json:"started_at"`
	Elapsed      time.Duration      `json:"elapsed"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Checkpoint is an encoded snapshot of a process's stream state.
type Checkpoint struct {
	ID        string    `json:"id"`
	Process   string    `json:"process"`
	RunID     *string   `json:"run_id,omitempty"`
	Encoding  string    `json:"encoding"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, passes int, errMsg *string) error
	ListRuns(ctx context.Context, processName *string, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Per-pass history
	AppendUnitResult(ctx context.Context, result *UnitResult) error
	ListUnitResults(ctx context.Context, runID string) ([]*UnitResult, error)
	AppendRecyclePasses(ctx context.Context, passes []RecyclePass) error
	ListRecyclePasses(ctx context.Context, runID string) ([]*RecyclePass, error)

	// Final stream state of a run
	SaveStreamStates(ctx context.Context, runID string, streams []process.StreamReport) error
	ListStreamStates(ctx context.Context, runID string) ([]process.StreamReport, error)

	// PVT results
	SavePVTResult(ctx context.Context, res *pvt.Result) error
	GetPVTResult(ctx context.Context, id string) (*pvt.Result, error)
	ListPVTExperiments(ctx context.Context, kind *string, limit, offset int) ([]*PVTExperiment, error)

	// Checkpoints
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	LatestCheckpoint(ctx context.Context, processName string) (*Checkpoint, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
