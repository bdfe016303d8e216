package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// timestampedHeader is the parsed form of "t=1700000000,v1=abc,v1=def".
type timestampedHeader struct {
	timestamp string
	v1        []string
}

// parseTimestampedHeader splits the comma-separated key=value list. Unknown
// keys (v0, future schemes) are ignored. Returns false if t or v1 is absent.
func parseTimestampedHeader(header string) (timestampedHeader, bool) {
	var h timestampedHeader
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			h.timestamp = value
		case "v1":
			h.v1 = append(h.v1, value)
		}
	}
	if h.timestamp == "" || len(h.v1) == 0 {
		return timestampedHeader{}, false
	}
	return h, true
}

// computeTimestamped returns the lowercase hex digest. Digests are compared
// as hex text so that case variants of a valid signature are rejected.
func computeTimestamped(payload []byte, secret, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyTimestamped(payload []byte, header, secret string, tolerance time.Duration, now time.Time) bool {
	h, ok := parseTimestampedHeader(header)
	if !ok {
		return false
	}

	if tolerance > 0 {
		unix, err := strconv.ParseInt(h.timestamp, 10, 64)
		if err != nil {
			return false
		}
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return false
		}
	}

	expected := []byte(computeTimestamped(payload, secret, h.timestamp))
	matched := false
	for _, sig := range h.v1 {
		// Compare every candidate so timing does not reveal which matched.
		if hmac.Equal(expected, []byte(sig)) {
			matched = true
		}
	}
	return matched
}

// SignTimestamped returns "t=<unix>,v1=<hex>" for payload at time t.
func SignTimestamped(payload []byte, secret string, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v1=" + computeTimestamped(payload, secret, ts)
}
