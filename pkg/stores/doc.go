// Package stores persists process run history, final stream states, PVT
// results, warm-start checkpoints and an event log in SQLite.
//
// The schema is applied with golang-migrate from embedded SQL files. Values
// that SQLite cannot hold as REAL, the NaN used for absent phases and failed
// PVT points, are stored as NULL and read back as NaN.
//
// Recorder adapts a Store to process.RunRecorder and pvt.Observer:
//
//	store, err := stores.Open(ctx, "procsim.db")
//	rec := stores.NewRecorder(store, logger, "plant.cue")
//	p := process.New("plant", process.WithRecorder(rec))
//	runner := pvt.NewRunner(pvt.WithObserver(rec))
package stores
