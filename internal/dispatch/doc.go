// Package dispatch runs the domain side effect for a verified webhook.
//
// CommandHandler spawns the endpoint's configured executable once per
// attempt and writes a protocol.Request envelope to its stdin:
//
//	{"protocol":1,"provider":"payments","event_id":"evt_123",
//	 "event_type":"payment.succeeded","attempt":1,"retry":false,
//	 "payload":{...}}
//
// The attempt succeeds when the process exits 0 and its stdout is empty or
// a {"status":"ok"} response. Any other outcome is a handler failure and the
// ledger row is marked failed with the error text:
//   - Non-zero exit: "exit status N: <stderr>" (stderr capped at 64KB)
//   - {"status":"error","error":"..."} on stdout
//   - Timeout or cancellation: SIGTERM, then SIGKILL after the grace period
//
// Noop is used for endpoints with no command; the delivery is only recorded.
package dispatch
