// Package telemetry provides the observability layer of procsim.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and an in-process event bus behind one Telemetry
// value, and adapts them to the hooks exposed by the simulation packages:
//
//   - process.RunRecorder: run, unit and recycle metrics and events
//   - thermo.FlashObserver: flash counts and durations per flash kind
//   - pvt.Observer: experiment and sweep point outcomes
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.CLIConfig("info", ":9090"))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	if _, err := tel.StartMetricsServer(ctx); err != nil {
//	    return err
//	}
//
//	p := process.New("let-down", tel.ProcessOptions()...)
//	runner := pvt.NewRunner(tel.PVTOptions()...)
//
// ProcessOptions and PVTOptions install the component loggers, the tracer,
// an instrumented flash dispatcher and the Instrumentation recorder.
//
// # Metrics
//
// All metrics live in a private registry under the "procsim" namespace:
//
//   - procsim_runs_started_total{process}
//   - procsim_runs_completed_total{process,status}
//   - procsim_run_duration_seconds{status}
//   - procsim_run_passes{process}
//   - procsim_unit_evaluations_total{unit_type,status}
//   - procsim_unit_duration_seconds{unit_type}
//   - procsim_recycle_residual{process,recycle}
//   - procsim_recycle_iterations{process,recycle}
//   - procsim_flashes_total{kind,status}
//   - procsim_flash_duration_seconds{kind}
//   - procsim_pvt_experiments_total{kind,status}
//   - procsim_pvt_points_total{kind,status}
//   - procsim_errors_by_class_total{class}
//   - procsim_errors_by_code_total{code}
//   - procsim_policy_violations_total{policy,severity}
//   - procsim_active_runs
//
// Run status is one of completed, unconverged, failed or cancelled.
//
// # Events
//
// Events are delivered to subscribers in publish order. With EnableAsync
// they are buffered and flushed in batches; Shutdown drains the buffer.
//
//	tel.Events.Subscribe(func(ev telemetry.Event) {
//	    fmt.Println(ev.Type, ev.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// # Tracing
//
// Exporters are "otlp" (gRPC), "stdout" and "none". The stdout exporter
// writes to stderr. CLIConfig leaves tracing off, so the tracer handed to
// the simulation packages is a no-op, until WithTracing picks an exporter:
//
//	cfg := telemetry.CLIConfig("info", "").WithTracing("otlp", "localhost:4317")
package telemetry
