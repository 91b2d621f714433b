package engine_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/crateplan/pkg/engine"
	"github.com/openfroyo/crateplan/pkg/manifest"
)

// Example_plan resolves the sample workspace, writes its lockfile and
// prints the build order.
func Example_plan() {
	dir, err := os.MkdirTemp("", "crateplan-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "workspace.yaml")
	if err := os.WriteFile(path, []byte(manifest.SampleYAML), 0o644); err != nil {
		panic(err)
	}

	ctx := context.Background()
	loaded, err := manifest.Load(ctx, path)
	if err != nil {
		panic(err)
	}

	result, err := engine.NewPlanner().Plan(ctx, engine.Request{Workspace: loaded})
	if err != nil {
		panic(err)
	}

	fmt.Println("packages:", result.Resolve.Len())
	fmt.Println("lockfile written:", result.LockfileChanged)
	for i, level := range result.Graph.Levels() {
		for _, u := range level {
			fmt.Printf("%d %s %s\n", i, u.Pkg.Name(), u.Target.Kind)
		}
	}
}
