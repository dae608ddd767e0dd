// Package pipeline runs a deployment as an ordered list of steps.
//
// Each step moves through Pending, Running and then Succeeded or Failed;
// a failed attempt under a retry policy passes through Retrying and runs
// again with exponential backoff until the budget is spent. The failure
// policy of a step decides what a final failure means for the run:
//
//   - abort: the run stops and later steps are Skipped
//   - retry(n): up to n more attempts, then abort
//   - continue: the failure becomes a warning and the run goes on
//
// A run ends with exactly one outcome: Succeeded, Failed (naming the step
// and reason) or SucceededWithWarnings.
//
// External tools are reached through the interfaces in interfaces.go; the
// Standard step list wires them in the fixed order resolve, order,
// credentials, build, push, reachable, apply, verify.
package pipeline
