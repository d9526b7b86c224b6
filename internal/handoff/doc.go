// Package handoff turns claimed work items into typed assignments.
//
// Consumers claim hook.WorkItems and need to know what they are being
// asked to do. Decode maps an item onto one of a closed set of
// assignments: StepAssignment for workflow steps dispatched by the engine,
// ReviewAssignment for gate submissions waiting on a human, and
// EscalationAssignment for failures routed to an accountable role. Dispatch
// hands an assignment to the matching Handler method.
//
// The New*Request helpers build the EnqueueRequests that produce review
// and escalation items, so the context keys written and read stay in one
// place.
package handoff
