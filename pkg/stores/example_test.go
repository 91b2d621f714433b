package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/openfroyo/crateplan/pkg/core"
	"github.com/openfroyo/crateplan/pkg/stores"
)

// ExampleSQLiteStore_CompleteRun records a failed resolve and reads its
// outcome back.
func ExampleSQLiteStore_CompleteRun() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.MemoryPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.CreateRun(ctx, &stores.Run{ID: "run-002", Command: "resolve"}); err != nil {
		log.Fatal(err)
	}
	runErr := core.NewError(core.ErrCodeNoMatchingPackage, "no matching package named `serde` found", nil)
	if err := store.CompleteRun(ctx, "run-002", stores.RunStatusFailed, runErr, 0, 0); err != nil {
		log.Fatal(err)
	}

	run, err := store.GetRun(ctx, "run-002")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(run.Status, run.ErrorCode)
	// Output: failed NO_MATCHING_PACKAGE
}

// ExampleSQLiteStore_PutSummaries imports package versions into the index
// and reads them back the way the resolver does.
func ExampleSQLiteStore_PutSummaries() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.MemoryPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	stats, err := store.PutSummaries(ctx, []core.Summary{
		{ID: core.MustPackageId("log", "0.4.20", core.DefaultRegistry())},
		{ID: core.MustPackageId("log", "0.4.21", core.DefaultRegistry())},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("added %d\n", stats.Added)

	candidates, err := store.Candidates(ctx, core.DefaultRegistry(), "log")
	if err != nil {
		log.Fatal(err)
	}
	for _, s := range candidates {
		fmt.Println(s.ID.Name, s.ID.Version)
	}
	// Output:
	// added 2
	// log 0.4.20
	// log 0.4.21
}

// ExampleSQLiteStore_AppendEvent records a run and attaches a warning to it.
func ExampleSQLiteStore_AppendEvent() {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.MemoryPath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.CreateRun(ctx, &stores.Run{ID: "run-001", Command: "plan"}); err != nil {
		log.Fatal(err)
	}
	if err := store.AppendEvent(ctx, &stores.Event{
		RunID:   "run-001",
		Level:   stores.EventLevelWarning,
		Package: "tool",
		Message: "package has no linkable target",
	}); err != nil {
		log.Fatal(err)
	}

	events, err := store.GetEvents(ctx, "run-001", nil, 10, 0)
	if err != nil {
		log.Fatal(err)
	}
	for _, e := range events {
		fmt.Printf("%s %s: %s\n", e.Level, e.Package, e.Message)
	}
	// Output: warning tool: package has no linkable target
}
