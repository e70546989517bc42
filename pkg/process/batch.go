package process

import (
	"fmt"
	"sync"

	"github.com/openfroyo/procsim/pkg/faults"
)

// Batch collects units built without a process so that a flowsheet can be
// assembled completely before it becomes visible to any process.
type Batch struct {
	mu       sync.Mutex
	units    []Unit
	names    map[string]struct{}
	attached bool
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{names: make(map[string]struct{})}
}

func (b *Batch) register(u Unit) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attached {
		return faults.NewConfigurationError("batch is already attached to a process", nil).
			WithCode(faults.ErrCodeAlreadyRegistered).
			WithUnit(u.Name())
	}
	if _, exists := b.names[u.Name()]; exists {
		return faults.NewConfigurationError(fmt.Sprintf("duplicate unit name %q", u.Name()), nil).
			WithCode(faults.ErrCodeDuplicateName).
			WithUnit(u.Name())
	}
	b.names[u.Name()] = struct{}{}
	b.units = append(b.units, u)
	return nil
}

// Add collects a unit built elsewhere.
func (b *Batch) Add(u Unit) error {
	return b.register(u)
}

// Units returns the collected units in construction order.
func (b *Batch) Units() []Unit {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Unit(nil), b.units...)
}

// Len returns the number of collected units.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.units)
}

// AttachTo registers every collected unit with p. Names are checked first;
// on conflict nothing is registered.
func (b *Batch) AttachTo(p *Process) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attached {
		return faults.NewConfigurationError("batch is already attached to a process", nil).
			WithCode(faults.ErrCodeAlreadyRegistered)
	}
	if err := p.attach(b.units); err != nil {
		return err
	}
	b.attached = true
	return nil
}
