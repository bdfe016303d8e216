// Package webhook is the HTTP intake for provider deliveries.
//
// Each configured endpoint accepts POST requests from one provider family,
// verifies the signature over the raw body, extracts the provider's event id
// and hands the delivery to the idempotent processor.
//
// # Security Model
//
// - Signatures are checked on the raw bytes before any decoding
// - Body size limits are enforced before verification
// - Signature failures return a generic 400 with no detail
// - Request logging never includes payloads
// - Secrets come from config, the environment or a .env file next to it
//
// # Configuration
//
//	webhooks:
//	  listen: "127.0.0.1:8090"
//	  handler_timeout: 30s
//	  endpoints:
//	    - path: /webhooks/payments
//	      provider: payments
//	      secret_ref: PAYMENTS_WEBHOOK_SECRET
//	      tolerance: 5m
//	      handler:
//	        command: /usr/local/bin/apply-payment
//	    - path: /webhooks/sms
//	      provider: sms
//	      secret_ref: SMS_AUTH_TOKEN
//	      signing_url: https://hooks.example.com/webhooks/sms
//
// # Request Flow
//
//  1. HTTP POST arrives at a configured path
//  2. Body size checked (413 if too large)
//  3. Signature verified for the endpoint's provider (400 on mismatch)
//  4. Event id and type extracted (400 if absent)
//  5. Processor registers the event and runs the handler at most once
//  6. Outcome mapped to a status code
//
// # Responses
//
// - 200 OK: processed, or skipped as an already completed duplicate
// - 400 Bad Request: invalid signature, malformed payload, missing event id
// - 404 Not Found: unknown webhook path
// - 409 Conflict: another attempt for the same event is in flight
// - 413 Payload Too Large: body exceeds max_body_size
// - 500 Internal Server Error: handler failed; redelivery will retry it
// - 503 Service Unavailable: ledger unavailable
package webhook
