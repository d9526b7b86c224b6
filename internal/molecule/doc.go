// Package molecule is the workflow engine. A Workflow ("molecule") is a DAG
// of Steps; the engine moves steps through their lifecycle, answers which
// steps are eligible, hands eligible steps to department queues, and closes
// the workflow when its steps are done.
//
// Workflow lifecycle: DRAFT -> ACTIVE -> {COMPLETED | FAILED}.
//
// Step lifecycle:
//
//	PENDING -> IN_PROGRESS -> DELEGATED -> {COMPLETED | FAILED}
//	PENDING -> DELEGATED
//	PENDING -> COMPLETED      (gate steps, through gate approval only)
//
// A step may leave PENDING for IN_PROGRESS, DELEGATED or COMPLETED only
// once every step it depends on is COMPLETED. Gate steps are completed by
// CompleteGateStep, never by CompleteStep. Repeating a transition that has
// already happened returns an InvalidState error and records nothing.
//
// Every transition plus the unblocking query that follows it runs under a
// lock scoped to the workflow, so two completions cannot both dispatch the
// same newly eligible step.
package molecule
