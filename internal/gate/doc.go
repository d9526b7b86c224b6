// Package gate implements approval checkpoints bound to workflow steps.
//
// A Gate lists criteria. Manual criteria are ticked by the submitter in a
// checklist; auto-check criteria name a verification command that the gate
// runs through verify.Sandbox. Evaluating a submission runs every
// auto-check, scores confidence as the fraction that passed (1.0 when
// there are none), and applies the gate's auto-approval Policy to decide
// whether the submission may be approved without a human.
//
// Submission lifecycle:
//
//	PENDING -> APPROVED | REJECTED | WITHDRAWN
//
// Evaluation lifecycle, tracked separately:
//
//	NOT_STARTED -> PENDING -> EVALUATING -> EVALUATED | FAILED
//
// EvaluateSync blocks for the duration of the commands. EvaluateAsync hands
// the work to a bounded pool and reports through a callback that runs
// exactly once; it can be canceled until its commands start.
//
// Approval is reported on the event bus as a SubmissionReviewedEvent
// carrying the ledger entry of the approval, which the workflow engine uses
// to complete the gate-bound step.
package gate
