package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/policy"
	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/pvt"
	"github.com/openfroyo/procsim/pkg/thermo"
)

// Instrumentation feeds process runs, flashes and PVT experiments into
// metrics, events and logs. It implements process.RunRecorder,
// thermo.FlashObserver and pvt.Observer.
type Instrumentation struct {
	metrics *Metrics
	events  *EventPublisher
	logger  *Logger

	mu    sync.Mutex
	names map[string]string // run ID -> process name
}

var (
	_ process.RunRecorder  = (*Instrumentation)(nil)
	_ thermo.FlashObserver = (*Instrumentation)(nil)
	_ pvt.Observer         = (*Instrumentation)(nil)
)

// NewInstrumentation creates an adapter over the components of t.
func NewInstrumentation(t *Telemetry) *Instrumentation {
	return &Instrumentation{
		metrics: t.Metrics,
		events:  t.Events,
		logger:  t.Logger.NewComponentLogger("instrumentation"),
		names:   make(map[string]string),
	}
}

// RunStatus maps a run error onto the status label used by metrics and
// events.
func RunStatus(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case faults.IsUnconverged(err):
		return "unconverged"
	default:
		return "failed"
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RunStarted implements process.RunRecorder.
func (i *Instrumentation) RunStarted(_ context.Context, run process.RunInfo) {
	i.mu.Lock()
	i.names[run.ID] = run.Process
	i.mu.Unlock()

	i.metrics.RecordRunStarted(run.Process)
	if err := i.events.PublishRunStarted(run.ID, run.Process, run.Units); err != nil {
		i.logger.WithError(err).Debug("run started event dropped")
	}
}

// UnitEvaluated implements process.RunRecorder.
func (i *Instrumentation) UnitEvaluated(_ context.Context, ev process.UnitEvent) {
	i.metrics.RecordUnitEvaluation(ev.Type.String(), status(ev.Err), ev.Elapsed)
	if ev.Err == nil {
		return
	}
	i.recordFault(ev.Err)
	if err := i.events.PublishUnitFailed(ev.RunID, ev.Unit, ev.Pass, ev.Err.Error()); err != nil {
		i.logger.WithError(err).Debug("unit failed event dropped")
	}
}

// PassCompleted implements process.RunRecorder.
func (i *Instrumentation) PassCompleted(_ context.Context, ev process.PassEvent) {
	if len(ev.Recycles) == 0 {
		return
	}
	i.mu.Lock()
	name := i.names[ev.RunID]
	i.mu.Unlock()

	for _, st := range ev.Recycles {
		i.metrics.SetRecycleState(name, st.Name, st.Iterations, st.Residual)
	}
}

// RunFinished implements process.RunRecorder.
func (i *Instrumentation) RunFinished(_ context.Context, run process.RunInfo, err error) {
	i.mu.Lock()
	delete(i.names, run.ID)
	i.mu.Unlock()

	st := RunStatus(err)
	duration := run.Finished.Sub(run.Started)
	i.metrics.RecordRunCompleted(run.Process, st, duration, run.Passes)

	var pubErr error
	if err == nil {
		pubErr = i.events.PublishRunCompleted(run.ID, run.Process, run.Passes, duration)
	} else {
		i.recordFault(err)
		var fe *faults.Error
		if errors.As(err, &fe) && fe.Class == faults.ClassUnconverged {
			i.publishUnconverged(run.ID, fe)
		}
		pubErr = i.events.PublishRunFailed(run.ID, run.Process, st, err.Error())
	}
	if pubErr != nil {
		i.logger.WithError(pubErr).Debug("run finished event dropped")
	}
}

// publishUnconverged publishes one event per recycle listed in the details
// of an unconverged recycle error.
func (i *Instrumentation) publishUnconverged(runID string, fe *faults.Error) {
	statuses, ok := fe.Details["recycles"].([]process.RecycleStatus)
	if !ok {
		return
	}
	for _, st := range statuses {
		if st.Converged {
			continue
		}
		_ = i.events.PublishRecycleUnconverged(runID, st.Name, st.Iterations, st.Residual)
	}
}

// ObserveFlash implements thermo.FlashObserver.
func (i *Instrumentation) ObserveFlash(kind thermo.FlashKind, elapsed time.Duration, err error) {
	i.metrics.RecordFlash(kind.String(), status(err), elapsed)
}

// ExperimentFinished implements pvt.Observer.
func (i *Instrumentation) ExperimentFinished(res *pvt.Result, err error) {
	if res == nil {
		kind := "unknown"
		i.metrics.RecordExperiment(kind, "error", 0, 0)
		if err != nil {
			i.recordFault(err)
			_ = i.events.PublishExperimentFailed(kind, err.Error())
		}
		return
	}
	kind := res.Kind.String()
	i.metrics.RecordExperiment(kind, status(err), len(res.Points), res.Failed())
	if err := i.events.PublishExperimentCompleted(res.ID, kind, len(res.Points), res.Failed()); err != nil {
		i.logger.WithError(err).Debug("experiment event dropped")
	}
}

func (i *Instrumentation) recordFault(err error) {
	var fe *faults.Error
	if errors.As(err, &fe) {
		i.metrics.RecordError(string(fe.Class), fe.Code)
		return
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		i.metrics.RecordError("cancelled", "")
	default:
		i.metrics.RecordError("unclassified", "")
	}
}

// RecordPolicyResult counts and publishes the violations found in a run
// report.
func (t *Telemetry) RecordPolicyResult(runID string, res *policy.Result) {
	if res == nil {
		return
	}
	for _, v := range res.Violations {
		t.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		subject := v.Unit
		if subject == "" {
			subject = v.Stream
		}
		_ = t.Events.PublishPolicyViolation(runID, subject, v.Policy, string(v.Severity), v.Message)
	}
	for _, w := range res.Warnings {
		t.Logger.WithRunID(runID).Warnf("policy not evaluated: %s", w)
	}
}

// RecordFault counts err by class and code.
func (t *Telemetry) RecordFault(err error) {
	if err == nil {
		return
	}
	t.inst.recordFault(err)
}
