// Package checkpoint captures the tear streams of a converged process and
// restores them as recycle initial guesses, so that a later run of the same
// flowsheet starts from the last solution.
//
// Snapshots are encoded with MessagePack and compressed with zstd.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/openfroyo/procsim/pkg/faults"
	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/stores"
	"github.com/openfroyo/procsim/pkg/thermo"
)

// Encoding names the snapshot format stored with each checkpoint.
const Encoding = "msgpack+zstd"

// StreamState is the state of one recycle outlet in canonical units.
type StreamState struct {
	Recycle      string    `msgpack:"recycle"`
	Components   []string  `msgpack:"components"`
	Composition  []float64 `msgpack:"composition"`
	TemperatureK float64   `msgpack:"temperature_k"`
	PressureBara float64   `msgpack:"pressure_bara"`
	MolarFlow    float64   `msgpack:"molar_flow"`
}

// Snapshot is the tear-stream state of a process after a run.
type Snapshot struct {
	Process  string                  `msgpack:"process"`
	RunID    string                  `msgpack:"run_id,omitempty"`
	Taken    time.Time               `msgpack:"taken"`
	Recycles []process.RecycleStatus `msgpack:"recycles"`
	Tears    []StreamState           `msgpack:"tears"`
}

// Capture records the outlet of every recycle that holds a fluid.
func Capture(p *process.Process) *Snapshot {
	snap := &Snapshot{
		Process:  p.Name(),
		RunID:    p.LastRun().ID,
		Taken:    time.Now(),
		Recycles: p.Report().Recycles,
	}
	for _, r := range p.Recycles() {
		f := r.Outlet().Fluid()
		if f == nil {
			continue
		}
		snap.Tears = append(snap.Tears, StreamState{
			Recycle:      r.Name(),
			Components:   f.Components(),
			Composition:  f.Composition(),
			TemperatureK: f.Temperature(),
			PressureBara: f.Pressure(),
			MolarFlow:    f.TotalFlowRate(),
		})
	}
	return snap
}

// Restore sets the initial guess of every recycle named in snap. The guess
// fluid is cloned from a feed stream with the same component list. It
// returns the number of recycles restored; recycles with no matching feed
// or no longer in the process are skipped.
func Restore(p *process.Process, snap *Snapshot) (int, error) {
	if snap == nil {
		return 0, nil
	}
	if snap.Process != p.Name() {
		return 0, faults.NewConfigurationError(
			fmt.Sprintf("checkpoint of %q cannot seed process %q", snap.Process, p.Name()), nil).
			WithCode(faults.ErrCodeInvalidParameter)
	}

	var feeds []thermo.Fluid
	for _, u := range p.Units() {
		if s, ok := u.(*process.Stream); ok && s.Fluid() != nil {
			feeds = append(feeds, s.Fluid())
		}
	}

	restored := 0
	for _, tear := range snap.Tears {
		u, ok := p.Unit(tear.Recycle)
		if !ok {
			continue
		}
		r, ok := u.(*process.Recycle)
		if !ok {
			continue
		}
		tmpl := template(feeds, tear.Components)
		if tmpl == nil {
			continue
		}
		guess, err := tear.fluid(tmpl)
		if err != nil {
			return restored, fmt.Errorf("restoring %s: %w", tear.Recycle, err)
		}
		r.SetInitialGuess(guess)
		restored++
	}
	return restored, nil
}

func template(feeds []thermo.Fluid, components []string) thermo.Fluid {
	for _, f := range feeds {
		if slices.Equal(f.Components(), components) {
			return f
		}
	}
	return nil
}

func (s StreamState) fluid(tmpl thermo.Fluid) (thermo.Fluid, error) {
	f := tmpl.Clone()
	if err := f.SetComposition(s.Composition); err != nil {
		return nil, err
	}
	if err := f.SetTemperature(s.TemperatureK, "K"); err != nil {
		return nil, err
	}
	if err := f.SetPressure(s.PressureBara, "bara"); err != nil {
		return nil, err
	}
	if err := f.SetTotalFlowRate(s.MolarFlow, "mol/s"); err != nil {
		return nil, err
	}
	return f, nil
}

// Marshal encodes a snapshot.
func Marshal(snap *Snapshot) ([]byte, error) {
	data, err := msgpack.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

// Unmarshal decodes a snapshot written by Marshal.
func Unmarshal(data []byte) (*Snapshot, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot: %w", err)
	}
	snap := &Snapshot{}
	if err := msgpack.Unmarshal(raw, snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}

// Repository is the part of stores.Store that holds checkpoints.
type Repository interface {
	SaveCheckpoint(ctx context.Context, cp *stores.Checkpoint) error
	LatestCheckpoint(ctx context.Context, processName string) (*stores.Checkpoint, error)
}

// Save captures p and stores the snapshot.
func Save(ctx context.Context, repo Repository, p *process.Process) (*Snapshot, error) {
	snap := Capture(p)
	data, err := Marshal(snap)
	if err != nil {
		return nil, err
	}
	cp := &stores.Checkpoint{
		ID:        uuid.New().String(),
		Process:   snap.Process,
		Encoding:  Encoding,
		Data:      data,
		CreatedAt: snap.Taken,
	}
	if snap.RunID != "" {
		cp.RunID = &snap.RunID
	}
	if err := repo.SaveCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	return snap, nil
}

// Load returns the latest stored snapshot of the named process.
func Load(ctx context.Context, repo Repository, processName string) (*Snapshot, error) {
	cp, err := repo.LatestCheckpoint(ctx, processName)
	if err != nil {
		return nil, err
	}
	if cp.Encoding != Encoding {
		return nil, fmt.Errorf("checkpoint %s has unsupported encoding %q", cp.ID, cp.Encoding)
	}
	return Unmarshal(cp.Data)
}

// WarmStart restores the latest snapshot of p, if one exists.
func WarmStart(ctx context.Context, repo Repository, p *process.Process) (int, error) {
	snap, err := Load(ctx, repo, p.Name())
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return Restore(p, snap)
}
