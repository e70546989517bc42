package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/procsim/pkg/process"
	"github.com/openfroyo/procsim/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:",
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_FinishRun records a run and its outcome.
func ExampleSQLiteStore_FinishRun() {
	ctx := context.Background()
	store, err := stores.Open(ctx, ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	_ = store.CreateRun(ctx, &stores.Run{
		ID:        "run-001",
		Process:   "let-down",
		StartedAt: time.Now(),
		Units:     3,
	})
	_ = store.FinishRun(ctx, "run-001", stores.RunStatusCompleted, 1, nil)

	run, _ := store.GetRun(ctx, "run-001")
	fmt.Println(run.Process, run.Status, run.Passes)
	// Output: let-down completed 1
}

// ExampleSQLiteStore_SaveStreamStates stores the final state of a stream.
func ExampleSQLiteStore_SaveStreamStates() {
	ctx := context.Background()
	store, err := stores.Open(ctx, ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	_ = store.CreateRun(ctx, &stores.Run{ID: "run-001", Process: "let-down", StartedAt: time.Now()})
	_ = store.SaveStreamStates(ctx, "run-001", []process.StreamReport{
		{Name: "valve", Producer: "valve", TemperatureK: 280, PressureBara: 50, MolarFlow: 100},
	})

	streams, _ := store.ListStreamStates(ctx, "run-001")
	fmt.Printf("%s %.0f bara\n", streams[0].Name, streams[0].PressureBara)
	// Output: valve 50 bara
}
