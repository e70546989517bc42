package process

import (
	"context"
	"sync"
)

var (
	defaultMu      sync.Mutex
	defaultProcess *Process
)

// Default returns the process that units join when built with a nil
// Registrar. It is created on first use.
func Default() *Process {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultProcess == nil {
		defaultProcess = New("default")
	}
	return defaultProcess
}

// SetDefault replaces the default process and returns the previous one.
// A nil p resets it so that the next Default call creates a new one.
func SetDefault(p *Process) *Process {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultProcess
	defaultProcess = p
	return prev
}

type processKey struct{}

// WithProcess returns a context carrying p.
func WithProcess(ctx context.Context, p *Process) context.Context {
	return context.WithValue(ctx, processKey{}, p)
}

// FromContext returns the process carried by ctx, or Default.
func FromContext(ctx context.Context) *Process {
	if p, ok := ctx.Value(processKey{}).(*Process); ok && p != nil {
		return p
	}
	return Default()
}
