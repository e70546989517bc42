package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/pvt"
)

// Recorder persists run history and PVT results. It implements
// process.RunRecorder and pvt.Observer. Store failures are logged and never
// interrupt the run being recorded.
type Recorder struct {
	store  Store
	logger zerolog.Logger
	source string
}

var (
	_ process.RunRecorder = (*Recorder)(nil)
	_ pvt.Observer        = (*Recorder)(nil)
)

// NewRecorder creates a recorder writing to store. source names the
// flowsheet file the recorded runs were built from.
func NewRecorder(store Store, logger zerolog.Logger, source string) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger.With().Str("component", "recorder").Logger(),
		source: source,
	}
}

// StatusOf maps the error returned by a run onto a stored status.
func StatusOf(err error) RunStatus {
	switch {
	case err == nil:
		return RunStatusCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return RunStatusCancelled
	case faults.IsUnconverged(err):
		return RunStatusUnconverged
	default:
		return RunStatusFailed
	}
}

// RunStarted creates the run row.
func (r *Recorder) RunStarted(ctx context.Context, run process.RunInfo) {
	err := r.store.CreateRun(context.WithoutCancel(ctx), &Run{
		ID:        run.ID,
		Process:   run.Process,
		Source:    r.source,
		Status:    RunStatusRunning,
		StartedAt: run.Started,
		Units:     run.Units,
		Recycles:  run.Recycles,
	})
	if err != nil {
		r.logger.Error().Err(err).Str("run_id", run.ID).Msg("Failed to record run start")
	}
}

// UnitEvaluated appends one unit result.
func (r *Recorder) UnitEvaluated(ctx context.Context, ev process.UnitEvent) {
	res := &UnitResult{
		RunID:    ev.RunID,
		Pass:     ev.Pass,
		Unit:     ev.Unit,
		UnitType: ev.Type.String(),
		Elapsed:  ev.Elapsed,
	}
	if ev.Err != nil {
		msg := ev.Err.Error()
		res.Error = &msg
	}
	if err := r.store.AppendUnitResult(context.WithoutCancel(ctx), res); err != nil {
		r.logger.Error().Err(err).Str("run_id", ev.RunID).Str("unit", ev.Unit).Msg("Failed to record unit result")
	}
}

// PassCompleted appends the recycle states of a pass.
func (r *Recorder) PassCompleted(ctx context.Context, ev process.PassEvent) {
	if err := r.store.AppendRecyclePasses(context.WithoutCancel(ctx), RecyclePasses(ev.RunID, ev.Pass, ev.Recycles)); err != nil {
		r.logger.Error().Err(err).Str("run_id", ev.RunID).Int("pass", ev.Pass).Msg("Failed to record recycle states")
	}
}

// RunFinished stores the outcome and, for failed runs, an error event.
func (r *Recorder) RunFinished(ctx context.Context, run process.RunInfo, runErr error) {
	ctx = context.WithoutCancel(ctx)
	status := StatusOf(runErr)

	var msg *string
	if runErr != nil {
		m := runErr.Error()
		msg = &m
	}
	if err := r.store.FinishRun(ctx, run.ID, status, run.Passes, msg); err != nil {
		r.logger.Error().Err(err).Str("run_id", run.ID).Msg("Failed to record run outcome")
		return
	}
	if runErr == nil {
		return
	}

	level := EventLevelError
	if status == RunStatusCancelled {
		level = EventLevelWarning
	}
	details := map[string]interface{}{"status": status, "passes": run.Passes}
	var fe *faults.Error
	if errors.As(runErr, &fe) {
		details["class"] = fe.Class
		details["code"] = fe.Code
		if fe.Unit != "" {
			details["unit"] = fe.Unit
		}
	}
	r.event(ctx, &run.ID, level, fmt.Sprintf("run of %s ended %s", run.Process, status), details)
}

// ExperimentFinished stores a PVT result. Experiments that produced no
// result are recorded as an error event.
func (r *Recorder) ExperimentFinished(res *pvt.Result, runErr error) {
	ctx := context.Background()
	if res == nil {
		if runErr != nil {
			r.event(ctx, nil, EventLevelError, "PVT experiment failed", map[string]interface{}{"error": runErr.Error()})
		}
		return
	}
	if err := r.store.SavePVTResult(ctx, res); err != nil {
		r.logger.Error().Err(err).Str("experiment_id", res.ID).Msg("Failed to record PVT result")
		return
	}
	if n := res.Failed(); n > 0 {
		r.event(ctx, nil, EventLevelWarning, fmt.Sprintf("%s experiment %s has %d failed points", res.Kind, res.ID, n),
			map[string]interface{}{"experiment_id": res.ID, "failed_points": n})
	}
}

func (r *Recorder) event(ctx context.Context, runID *string, level EventLevel, message string, details map[string]interface{}) {
	ev := &Event{RunID: runID, Level: level, Message: message}
	if len(details) > 0 {
		if data, err := json.Marshal(details); err == nil {
			s := string(data)
			ev.Details = &s
		}
	}
	if err := r.store.AppendEvent(ctx, ev); err != nil {
		r.logger.Error().Err(err).Msg("Failed to record event")
	}
}
