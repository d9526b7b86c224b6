// Package event provides a synchronous pub-sub bus through which the core
// notifies collaborators outside it.
//
// The queue, workflow and gate managers publish events after the state
// change they describe has been persisted and recorded in the ledger.
// Subscribers in the role layer use them to react without polling:
//
//   - [StepUnblockedEvent]: a workflow step became eligible; triggers further delegation
//   - [AutoApprovedEvent]: a gate submission was approved without human review;
//     routed to a human reviewer channel
//   - [ItemFailedEvent], [StepFailedEvent], [WorkflowFailedEvent]: failure and
//     escalation signals routed to a superior
//
// # Main Types
//
//   - [Event]: Interface that all events implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous dispatcher; handler panics are recovered and logged
//   - [Handler]: Function type for event handlers (func(Event))
//
// Handlers run on the publisher's goroutine after its locks are released, so
// a handler may call back into the manager that published the event.
package event
