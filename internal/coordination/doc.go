// Package coordination provides a Hub that opens the durable state of one
// hookline directory and wires the queue, workflow and gate subsystems
// together.
//
// The Hub builds, from a config.Config:
//
//	store (file or sqlite) -> Cache [-> Watcher]
//	ledger (jsonl or sqlite)
//	event.Bus
//	hook.Manager, molecule.Engine, gate.Manager
//
// and subscribes to the bus so that the subsystems feed each other:
//
//   - an approved submission completes the gate-bound workflow step
//   - an evaluated submission that was not auto-approved becomes a review
//     item on the gate owner's queue
//   - a step work item that exhausts its retries fails the step
//   - a failed step becomes an escalation item on the queue of the role
//     accountable for the workflow
//
// Usage:
//
//	hub, err := coordination.Open(cfg)
//	if err != nil {
//	    return err
//	}
//	defer hub.Close()
//
//	wf, err := hub.Engine().Instantiate(ctx, "tmpl_launch", molecule.InstantiateRequest{})
package coordination
