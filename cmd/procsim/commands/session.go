package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/procsim/pkg/config"
	"github.com/openfroyo/procsim/pkg/policy"
	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/stores"
	"github.com/openfroyo/procsim/pkg/telemetry"
)

// session holds what a command needs to build and record processes.
type session struct {
	tel    *telemetry.Telemetry
	store  *stores.SQLiteStore
	logger zerolog.Logger
	stop   context.CancelFunc
}

type sessionOptions struct {
	metricsAddr string
	// store opens the history database when --db is set.
	store bool
	// requireStore fails when --db is empty.
	requireStore bool
}

// logLevel returns the global zerolog level in telemetry terms.
func logLevel() string {
	switch lvl := zerolog.GlobalLevel(); lvl {
	case zerolog.TraceLevel, zerolog.DebugLevel, zerolog.InfoLevel,
		zerolog.WarnLevel, zerolog.ErrorLevel:
		return lvl.String()
	default:
		return "error"
	}
}

func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	cfg := telemetry.CLIConfig(logLevel(), opts.metricsAddr).WithTracing(traceExporter, otlpEndpoint)
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	ctx, stop := context.WithCancel(ctx)
	s := &session{tel: tel, logger: log.Logger, stop: stop}

	if addr, err := tel.StartMetricsServer(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("metrics server: %w", err)
	} else if addr != "" {
		log.Info().Str("addr", addr).Msg("Serving metrics")
	}

	if opts.requireStore && dbPath == "" {
		s.Close()
		return nil, fmt.Errorf("no history database, set --db")
	}
	if (opts.store || opts.requireStore) && dbPath != "" {
		store, err := stores.Open(ctx, dbPath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("opening %s: %w", dbPath, err)
		}
		s.store = store
	}
	return s, nil
}

// Close releases the store and flushes telemetry.
func (s *session) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing history database failed")
		}
	}
	s.stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}

// load parses flowsheet sources.
func (s *session) load(ctx context.Context, sources []string) (*config.FlowsheetConfig, error) {
	return config.NewCUEParser().Load(ctx, sources...)
}

// build creates an instrumented process from cfg. Runs are recorded to the
// history database when one is open.
func (s *session) build(cfg *config.FlowsheetConfig, source string, extra ...process.Option) (*config.Flowsheet, error) {
	opts := s.tel.ProcessOptions()
	if s.store != nil {
		opts = append(opts, process.WithRecorder(stores.NewRecorder(s.store, s.logger, source)))
	}
	opts = append(opts, extra...)
	b := config.NewBuilder(config.WithLogger(s.logger.With().Str("component", "builder").Logger()))
	return b.Build(cfg, opts...)
}

// loadAndBuild parses and builds in one step.
func (s *session) loadAndBuild(ctx context.Context, sources []string, extra ...process.Option) (*config.Flowsheet, error) {
	cfg, err := s.load(ctx, sources)
	if err != nil {
		return nil, err
	}
	return s.build(cfg, strings.Join(sources, ","), extra...)
}

// newPolicyEngine loads the built-in policies, the policies under paths and
// the envelope limits.
func newPolicyEngine(ctx context.Context, paths []string, limits map[string]float64) (*policy.Engine, error) {
	engine, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		if err := engine.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	engine.SetLimits(limits)
	return engine, nil
}

// processOptions turns the shared run flags into process options.
func processOptions(ordering string, maxPasses int) ([]process.Option, error) {
	var opts []process.Option
	if ordering != "" {
		mode, err := process.ParseOrderMode(ordering)
		if err != nil {
			return nil, err
		}
		opts = append(opts, process.WithOrdering(mode))
	}
	if maxPasses > 0 {
		opts = append(opts, process.WithMaxPasses(maxPasses))
	}
	return opts, nil
}
