package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is something that happened during a run or experiment.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"` // process, pvt or policy
	RunID     string                 `json:"run_id,omitempty"`
	Process   string                 `json:"process,omitempty"`
	Unit      string                 `json:"unit,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted          = "run.started"
	EventTypeRunCompleted        = "run.completed"
	EventTypeRunFailed           = "run.failed"
	EventTypeUnitFailed          = "unit.failed"
	EventTypeRecycleUnconverged  = "recycle.unconverged"
	EventTypeExperimentCompleted = "pvt.completed"
	EventTypeExperimentFailed    = "pvt.failed"
	EventTypePolicyViolation     = "policy.violation"
)

// Event levels, in increasing severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var levelRank = map[string]int{EventLevelInfo: 0, EventLevelWarning: 1, EventLevelError: 2}

// EventSubscriber receives delivered events.
type EventSubscriber func(Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(Event) bool

var (
	errPublisherStopped = errors.New("event publisher stopped")
	errBufferFull       = errors.New("event buffer full, event dropped")
)

// EventPublisher delivers events to subscribers in publish order, either
// inline or from a buffered background goroutine.
type EventPublisher struct {
	config EventsConfig
	buffer chan Event

	mu          sync.RWMutex
	subscribers []subscription
	filters     []EventFilter

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// NewEventPublisher creates a publisher. Async publishers start their
// delivery goroutine here and stop it in Shutdown.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.run()
	}
	return ep, nil
}

// Publish stamps ev with an ID and time and delivers it. An async
// publisher drops the event when its buffer is full.
func (ep *EventPublisher) Publish(ev Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, keep := range ep.filters {
		if !keep(ev) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if !ep.config.EnableAsync {
		ep.deliver(ev)
		return nil
	}
	select {
	case <-ep.ctx.Done():
		return errPublisherStopped
	default:
	}
	select {
	case ep.buffer <- ev:
		return nil
	default:
		return errBufferFull
	}
}

// PublishRunStarted announces a run.
func (ep *EventPublisher) PublishRunStarted(runID, process string, units int) error {
	return ep.Publish(Event{
		Type: EventTypeRunStarted, Source: "process", Level: EventLevelInfo,
		RunID: runID, Process: process,
		Message: fmt.Sprintf("run %s of %s started with %d units", runID, process, units),
		Data:    map[string]interface{}{"units": units},
	})
}

// PublishRunCompleted announces a converged run.
func (ep *EventPublisher) PublishRunCompleted(runID, process string, passes int, duration time.Duration) error {
	return ep.Publish(Event{
		Type: EventTypeRunCompleted, Source: "process", Level: EventLevelInfo,
		RunID: runID, Process: process,
		Message: fmt.Sprintf("run %s of %s completed in %d passes", runID, process, passes),
		Data:    map[string]interface{}{"passes": passes, "duration_seconds": duration.Seconds()},
	})
}

// PublishRunFailed announces a run that ended with status other than
// completed.
func (ep *EventPublisher) PublishRunFailed(runID, process, status, reason string) error {
	return ep.Publish(Event{
		Type: EventTypeRunFailed, Source: "process", Level: EventLevelError,
		RunID: runID, Process: process,
		Message: fmt.Sprintf("run %s of %s %s: %s", runID, process, status, reason),
		Data:    map[string]interface{}{"status": status, "reason": reason},
	})
}

// PublishUnitFailed announces a failed equipment node evaluation.
func (ep *EventPublisher) PublishUnitFailed(runID, unit string, pass int, reason string) error {
	return ep.Publish(Event{
		Type: EventTypeUnitFailed, Source: "process", Level: EventLevelError,
		RunID: runID, Unit: unit,
		Message: fmt.Sprintf("unit %s failed in pass %d: %s", unit, pass, reason),
		Data:    map[string]interface{}{"pass": pass, "reason": reason},
	})
}

// PublishRecycleUnconverged announces a recycle binding that hit its
// iteration cap.
func (ep *EventPublisher) PublishRecycleUnconverged(runID, recycle string, iterations int, residual float64) error {
	return ep.Publish(Event{
		Type: EventTypeRecycleUnconverged, Source: "process", Level: EventLevelWarning,
		RunID: runID, Unit: recycle,
		Message: fmt.Sprintf("recycle %s not converged after %d iterations", recycle, iterations),
		Data:    map[string]interface{}{"iterations": iterations, "residual": residual},
	})
}

// PublishExperimentCompleted announces a PVT result. Failed points make it
// a warning.
func (ep *EventPublisher) PublishExperimentCompleted(id, kind string, points, failed int) error {
	level := EventLevelInfo
	if failed > 0 {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type: EventTypeExperimentCompleted, Source: "pvt", Level: level,
		Message: fmt.Sprintf("%s %s: %d of %d points failed", kind, id, failed, points),
		Data:    map[string]interface{}{"experiment_id": id, "kind": kind, "points": points, "failed": failed},
	})
}

// PublishExperimentFailed announces an experiment without a result.
func (ep *EventPublisher) PublishExperimentFailed(kind, reason string) error {
	return ep.Publish(Event{
		Type: EventTypeExperimentFailed, Source: "pvt", Level: EventLevelError,
		Message: fmt.Sprintf("%s experiment failed: %s", kind, reason),
		Data:    map[string]interface{}{"kind": kind, "reason": reason},
	})
}

// PublishPolicyViolation announces an operating envelope violation by a
// unit or stream.
func (ep *EventPublisher) PublishPolicyViolation(runID, subject, policyName, severity, reason string) error {
	level := EventLevelWarning
	if severity == "error" || severity == "critical" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type: EventTypePolicyViolation, Source: "policy", Level: level,
		RunID: runID, Unit: subject,
		Message: fmt.Sprintf("%s violated by %s: %s", policyName, subject, reason),
		Data:    map[string]interface{}{"policy": policyName, "severity": severity},
	})
}

// Subscribe registers fn for events passing filter; a nil filter passes all.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscription{fn: fn, filter: filter})
}

// AddFilter drops events failing filter before they reach any subscriber.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

func (ep *EventPublisher) run() {
	defer ep.wg.Done()

	var tick <-chan time.Time
	if ep.config.FlushInterval > 0 {
		t := time.NewTicker(ep.config.FlushInterval)
		defer t.Stop()
		tick = t.C
	}
	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, ev := range batch {
			ep.deliver(ev)
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-ep.buffer:
			batch = append(batch, ev)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}
		case <-tick:
			flush()
		case <-ep.ctx.Done():
			for {
				select {
				case ev := <-ep.buffer:
					batch = append(batch, ev)
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}

func (ep *EventPublisher) deliver(ev Event) {
	ep.mu.RLock()
	subs := ep.subscribers
	ep.mu.RUnlock()
	for _, s := range subs {
		if s.filter == nil || s.filter(ev) {
			s.fn(ev)
		}
	}
}

// Shutdown stops accepting events and waits until buffered ones are
// delivered or ctx is done.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}
	ep.cancel()
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// FilterByLevel passes events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := levelRank[minLevel]
	return func(ev Event) bool { return levelRank[ev.Level] >= floor }
}

// FilterByType passes events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(ev Event) bool { return set[ev.Type] }
}

// FilterByRunID passes events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(ev Event) bool { return ev.RunID == runID }
}

// FilterByProcess passes events of one process.
func FilterByProcess(process string) EventFilter {
	return func(ev Event) bool { return ev.Process == process }
}
