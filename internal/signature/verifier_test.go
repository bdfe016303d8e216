package signature

import (
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/mattjoyce/hookledger/internal/ledger"
)

const testSecret = "whsec_test_secret"

var testBody = []byte(`{"id":"evt_123","type":"payment.succeeded","data":{"amount":1200}}`)

func TestVerifyGeneric(t *testing.T) {
	expectedSig := SignGeneric(testBody, testSecret)

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		want      bool
	}{
		{
			name:      "valid signature - plain hex",
			body:      testBody,
			signature: expectedSig,
			secret:    testSecret,
			want:      true,
		},
		{
			name:      "valid signature - GitHub format",
			body:      testBody,
			signature: "sha256=" + expectedSig,
			secret:    testSecret,
			want:      true,
		},
		{
			name:      "invalid signature - wrong signature",
			body:      testBody,
			signature: strings.Repeat("0", 64),
			secret:    testSecret,
		},
		{
			name:      "invalid signature - tampered body",
			body:      []byte(`{"id":"evt_123","type":"payment.refunded"}`),
			signature: expectedSig,
			secret:    testSecret,
		},
		{
			name:      "invalid signature - wrong secret",
			body:      testBody,
			signature: expectedSig,
			secret:    "wrong-secret",
		},
		{
			name:      "invalid signature - empty signature",
			body:      testBody,
			signature: "",
			secret:    testSecret,
		},
		{
			name:      "invalid signature - empty secret",
			body:      testBody,
			signature: expectedSig,
			secret:    "",
		},
		{
			name:      "invalid signature - malformed hex",
			body:      testBody,
			signature: "not-valid-hex",
			secret:    testSecret,
		},
		{
			name:      "invalid signature - uppercase hex",
			body:      testBody,
			signature: strings.ToUpper(expectedSig),
			secret:    testSecret,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Verify(ledger.ProviderOther, tt.body, tt.signature, tt.secret)
			if got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifyTimestamped(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	valid := SignTimestamped(testBody, testSecret, now)
	sig := strings.TrimPrefix(valid[strings.Index(valid, "v1="):], "v1=")

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{name: "valid", header: valid, want: true},
		{name: "spaces around pairs", header: fmt.Sprintf("t=%d, v1=%s", now.Unix(), sig), want: true},
		{name: "v1 before t", header: fmt.Sprintf("v1=%s,t=%d", sig, now.Unix()), want: true},
		{name: "extra v0 ignored", header: valid + ",v0=deadbeef", want: true},
		{name: "rotated secret, second v1 matches", header: fmt.Sprintf("t=%d,v1=%s,v1=%s", now.Unix(), strings.Repeat("a", 64), sig), want: true},
		{name: "missing v1", header: fmt.Sprintf("t=%d", now.Unix())},
		{name: "missing t", header: "v1=" + sig},
		{name: "wrong timestamp", header: fmt.Sprintf("t=%d,v1=%s", now.Unix()+1, sig)},
		{name: "garbage", header: "this is not a header"},
		{name: "empty pairs", header: ",,,"},
		{name: "non-hex v1", header: fmt.Sprintf("t=%d,v1=zz", now.Unix())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, p := range []ledger.Provider{ledger.ProviderPayments, ledger.ProviderIdentity} {
				assert.Equal(t, tt.want, Verify(p, testBody, tt.header, testSecret), "provider %s", p)
			}
		})
	}
}

func TestVerifyTimestampedMissingV1DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.False(t, Verify(ledger.ProviderPayments, testBody, "t=1760000000,v0=abc", testSecret))
	})
}

func TestVerifyTimestampedTolerance(t *testing.T) {
	signedAt := time.Unix(1_760_000_000, 0)
	header := SignTimestamped(testBody, testSecret, signedAt)

	v := Verifier{Tolerance: 5 * time.Minute, Now: func() time.Time { return signedAt.Add(4 * time.Minute) }}
	assert.True(t, v.Verify(ledger.ProviderPayments, testBody, header, testSecret))

	v.Now = func() time.Time { return signedAt.Add(6 * time.Minute) }
	assert.False(t, v.Verify(ledger.ProviderPayments, testBody, header, testSecret))

	v.Now = func() time.Time { return signedAt.Add(-6 * time.Minute) }
	assert.False(t, v.Verify(ledger.ProviderPayments, testBody, header, testSecret))

	// Tolerance disabled: any age verifies.
	v = Verifier{Now: func() time.Time { return signedAt.Add(24 * time.Hour) }}
	assert.True(t, v.Verify(ledger.ProviderPayments, testBody, header, testSecret))
}

// Headers produced by the payment processor's own SDK must verify.
func TestVerifyTimestampedMatchesStripeSDK(t *testing.T) {
	now := time.Now()
	mac := webhook.ComputeSignature(now, testBody, testSecret)
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(mac))
	assert.True(t, Verify(ledger.ProviderPayments, testBody, header, testSecret))

	ours := SignTimestamped(testBody, testSecret, now)
	require.NoError(t, webhook.ValidatePayloadIgnoringTolerance(testBody, ours, testSecret))
}

func TestVerifySimple(t *testing.T) {
	body := []byte("MessageSid=SM123&MessageStatus=delivered")
	header := SignSimple(body, testSecret, "")

	assert.True(t, Verify(ledger.ProviderSMS, body, header, testSecret))
	assert.False(t, Verify(ledger.ProviderSMS, body, header, "other"))
	assert.False(t, Verify(ledger.ProviderSMS, body, "%%%not base64", testSecret))

	url := "https://hooks.example.com/webhooks/sms"
	withURL := SignSimple(body, testSecret, url)
	v := Verifier{SigningURL: url}
	assert.True(t, v.Verify(ledger.ProviderSMS, body, withURL, testSecret))
	assert.False(t, v.Verify(ledger.ProviderSMS, body, header, testSecret), "URL is part of the signed string")
	assert.False(t, Verify(ledger.ProviderSMS, body, withURL, testSecret))
}

// Flipping any single byte of the payload or of the signature header must
// cause verification to fail, for every provider.
func TestVerifyIsContentSensitive(t *testing.T) {
	v := Verifier{Now: func() time.Time { return time.Unix(1_760_000_000, 0) }}

	for _, p := range ledger.Providers() {
		t.Run(string(p), func(t *testing.T) {
			header, ok := v.Sign(p, testBody, testSecret)
			require.True(t, ok)
			require.True(t, v.Verify(p, testBody, header, testSecret))

			for i := range testBody {
				mutated := append([]byte(nil), testBody...)
				mutated[i] ^= 0x01
				if v.Verify(p, mutated, header, testSecret) {
					t.Fatalf("payload byte %d flipped but signature still verified", i)
				}
			}
			for i := range len(header) {
				mutated := []byte(header)
				mutated[i] ^= 0x01
				if v.Verify(p, testBody, string(mutated), testSecret) {
					t.Fatalf("header byte %d flipped (%q) but signature still verified", i, mutated)
				}
			}
		})
	}
}

func TestEveryProviderHasScheme(t *testing.T) {
	for _, p := range ledger.Providers() {
		_, ok := SchemeFor(p)
		assert.True(t, ok, "provider %s has no signature scheme", p)
	}
	_, ok := SchemeFor(ledger.Provider("unknown"))
	assert.False(t, ok)
	assert.False(t, Verify(ledger.Provider("unknown"), testBody, "x", testSecret))
}

func TestSignGenericDeterministic(t *testing.T) {
	sig := SignGeneric([]byte("test payload"), "test-secret")
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, SignGeneric([]byte("test payload"), "test-secret"))
	assert.NotEqual(t, sig, SignGeneric([]byte("different"), "test-secret"))
}
