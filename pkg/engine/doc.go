// Package engine runs crateplan's planning workflow over a loaded workspace.
//
// # Overview
//
// A run walks these phases in order, stopping at the first failure:
//
//  1. Lockfile read - decode the existing lockfile, unless it is ignored
//  2. Resolve - pick versions and features, preferring locked versions
//  3. Locked - with --locked, fail when the lockfile would change
//  4. Policy - evaluate Rego policies; error severity rejects the run
//  5. Lockfile write - write the lockfile when it changed
//  6. Build units - expand the roots into the unit graph (Plan only)
//
// Failures are returned as *PlanError, which names the phase and
// classifies the cause (see Classify). Their Code is the code of the
// underlying error.
//
// # Telemetry
//
// The planner reports to the telemetry.Telemetry in the context: spans for
// the resolve, the lockfile write and the unit graph, resolver metrics
// through a resolver.Observer, and run events. With WithHistory each run,
// its resolved packages and its warnings are also recorded, typically in a
// stores.SQLiteStore.
//
// # Usage
//
//	loaded, err := manifest.Load(ctx, "workspace.yaml")
//	if err != nil {
//		return err
//	}
//	planner := engine.NewPlanner(engine.WithHistory(store), engine.WithIndex(store))
//	result, err := planner.Plan(ctx, engine.Request{Workspace: loaded, Config: cfg})
//	if err != nil {
//		return err
//	}
//	data, err := result.Graph.ToJSON()
package engine
