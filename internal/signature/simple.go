package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
)

func computeSimple(payload []byte, secret, signingURL string) []byte {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(signingURL))
	mac.Write(payload)
	return mac.Sum(nil)
}

// verifySimple compares the base64 header against HMAC-SHA1 of
// signingURL+payload. An empty signingURL signs the payload alone.
func verifySimple(payload []byte, header, secret, signingURL string) bool {
	// Strict decoding rejects non-zero padding bits, so every byte of the
	// header participates.
	got, err := base64.StdEncoding.Strict().DecodeString(header)
	if err != nil {
		return false
	}
	return hmac.Equal(computeSimple(payload, secret, signingURL), got)
}

// SignSimple returns the base64 HMAC-SHA1 header value.
func SignSimple(payload []byte, secret, signingURL string) string {
	return base64.StdEncoding.EncodeToString(computeSimple(payload, secret, signingURL))
}
