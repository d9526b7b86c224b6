// Package hook implements owned work queues ("hooks").
//
// A queue belongs to a role, department or worker pool and holds WorkItems
// that consumers pull with Claim. Each queue is one record in the store;
// every read-modify-write on it runs under a lock scoped to that queue, so
// two consumers can never both win the same item and different queues never
// contend.
//
// Item lifecycle:
//
//	QUEUED -> CLAIMED -> IN_PROGRESS -> COMPLETED
//	                                 -> FAILED -> QUEUED (while retry_count < max_retries)
//
// Claims pick the most urgent eligible item (priority 0 first), oldest
// first among equal priority. An item is eligible for a consumer when every
// required capability is matched by one of the consumer's capabilities;
// consumer capabilities may be glob patterns such as "lang:*".
package hook
