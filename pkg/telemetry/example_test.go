package telemetry_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/telemetry"
	"github.com/openfroyo/procsim/pkg/thermo"
	"github.com/openfroyo/procsim/pkg/thermo/cubic"
)

func exampleGas() thermo.Fluid {
	f, _ := thermo.NewFluidAt(cubic.NewEngine(), thermo.ModelPR,
		thermo.Value{V: 27, Unit: "C"}, thermo.Value{V: 100, Unit: "bara"})
	_ = f.AddComponent("methane", 0.9, "mol")
	_ = f.AddComponent("ethane", 0.1, "mol")
	_ = f.SetTotalFlowRate(100, "mol/s")
	return f
}

func quietConfig() *telemetry.Config {
	cfg := telemetry.CLIConfig("info", "")
	cfg.Logging.Output = "discard"
	return cfg
}

// Example_instrumentedRun wires telemetry into a process and prints the
// events it publishes.
func Example_instrumentedRun() {
	tel, err := telemetry.NewTelemetry(quietConfig())
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(ev telemetry.Event) {
		fmt.Println(ev.Type)
	}, nil)

	p := process.New("let-down", tel.ProcessOptions()...)
	feed, _ := process.NewStream(p, "feed", exampleGas())
	valve, _ := process.NewValve(p, "valve", feed)
	_ = valve.SetOutletPressure(50, "bara")

	if err := p.Run(context.Background()); err != nil {
		fmt.Println(err)
	}
	// Output:
	// run.started
	// run.completed
}

// Example_eventFiltering subscribes only to warnings and errors.
func Example_eventFiltering() {
	tel, _ := telemetry.NewTelemetry(quietConfig())
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(ev telemetry.Event) {
		fmt.Printf("%s %s\n", ev.Level, ev.Type)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	_ = tel.Events.PublishRunStarted("run-1", "loop", 4)
	_ = tel.Events.PublishRecycleUnconverged("run-1", "recycle", 50, 0.3)
	_ = tel.Events.PublishRunFailed("run-1", "loop", "unconverged", "recycle")
	// Output:
	// warning recycle.unconverged
	// error run.failed
}

// Example_productionConfiguration validates an OTLP configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()
	cfg.ServiceVersion = "1.2.3"
	cfg.Tracing.Endpoint = "otel-collector:4317"
	cfg.Metrics.ListenAddress = ":9090"

	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	fmt.Println("valid")
	// Output: valid
}
