// Package ledger is the append-only audit log. Every state transition in the
// queue, workflow and gate packages is recorded here as an Entry. Entries are
// never updated or removed; a correction is a new entry whose ParentEntryID
// points at the one it amends.
//
// When chaining is enabled each entry carries the blake3 hash of its
// predecessor's hash and its own canonical CBOR encoding, so Verify can
// detect edits made to the backing file or database out of band.
package ledger
