package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// verifyGeneric checks an HMAC-SHA256 hex signature over the raw payload.
//
// Supported formats:
//   - "sha256=<hex>" (GitHub style)
//   - "<hex>" (plain hex)
func verifyGeneric(payload []byte, header, secret string) bool {
	actual := strings.TrimPrefix(header, "sha256=")
	return hmac.Equal([]byte(SignGeneric(payload, secret)), []byte(actual))
}

// SignGeneric returns the plain hex HMAC-SHA256 of payload.
func SignGeneric(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
