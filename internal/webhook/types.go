package webhook

import (
	"time"

	"github.com/mattjoyce/hookledger/internal/ledger"
	"github.com/mattjoyce/hookledger/internal/processor"
	"github.com/mattjoyce/hookledger/internal/protocol"
	"github.com/mattjoyce/hookledger/internal/signature"
)

// Handler runs the domain side effect for an accepted delivery.
type Handler = processor.Handler[*protocol.Response]

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
	// WriteTimeout must cover the handler and the ledger write.
	WriteTimeout time.Duration
}

// EndpointConfig is a resolved endpoint: secret looked up, sizes parsed,
// handler constructed.
type EndpointConfig struct {
	// Path is the URL path for this webhook (e.g., "/webhooks/payments")
	Path string

	Provider ledger.Provider

	// Secret is the shared signing secret, already resolved.
	Secret string

	// SignatureHeader is the HTTP header carrying the signature. Defaults
	// per provider, see DefaultSignatureHeader.
	SignatureHeader string

	// MaxBodySize is the maximum allowed request body size in bytes (default: 1MB)
	MaxBodySize int64

	Verifier  signature.Verifier
	Extractor Extractor
	Handler   Handler
}

// AcceptedResponse is the JSON response for a delivery that was handled or
// skipped as a duplicate.
type AcceptedResponse struct {
	Status   string         `json:"status"`
	EventID  string         `json:"event_id"`
	Attempts int            `json:"attempts"`
	Result   map[string]any `json:"result,omitempty"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Response statuses.
const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
)

// Default values
const (
	DefaultMaxBodySize = 1048576 // 1 MB
)

// DefaultSignatureHeader returns the header a provider family sends its
// signature in.
func DefaultSignatureHeader(p ledger.Provider) string {
	switch p {
	case ledger.ProviderPayments:
		return "Stripe-Signature"
	case ledger.ProviderIdentity:
		return "Webhook-Signature"
	case ledger.ProviderSMS:
		return "X-Twilio-Signature"
	case ledger.ProviderOther:
		return "X-Hub-Signature-256"
	}
	return "X-Signature"
}
