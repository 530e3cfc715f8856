// Package workflow is a small durable execution host.
//
// An orchestrator is ordinary Go code that talks to the outside world only
// through its *Context: durable timers, activities and locked entity reads.
// Each of those calls appends a step to the instance history before its
// result is used. When the process restarts, Resume runs every unfinished
// orchestrator again from the top; recorded steps return their recorded
// results without repeating side effects, and execution continues live from
// the first step that was not recorded.
//
// Orchestrators must therefore be deterministic:
//   - no wall-clock reads (use Context.CurrentTime),
//   - no sleeps (use Context.CreateTimer),
//   - no I/O or randomness (use Context.CallActivity).
//
// Activities run outside that discipline and may do anything; their results
// are recorded once.
package workflow
