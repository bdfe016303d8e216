package webhook

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hookledger/internal/ledger"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		x        Extractor
		header   http.Header
		body     string
		wantID   string
		wantType string
		wantErr  bool
	}{
		{
			name:     "payments envelope",
			x:        NewExtractor(ledger.ProviderPayments, "", "", ""),
			body:     `{"id":"evt_9","object":"event","type":"charge.refunded","data":{"object":{}}}`,
			wantID:   "evt_9",
			wantType: "charge.refunded",
		},
		{
			name:    "payments not json",
			x:       NewExtractor(ledger.ProviderPayments, "", "", ""),
			body:    `id=evt_9`,
			wantErr: true,
		},
		{
			name:     "identity defaults",
			x:        NewExtractor(ledger.ProviderIdentity, "", "", ""),
			body:     `{"data":{"id":"usr_1","attributes":{"name":"user.created"}}}`,
			wantID:   "usr_1",
			wantType: "user.created",
		},
		{
			name:     "custom paths with numeric id",
			x:        NewExtractor(ledger.ProviderOther, "delivery.seq", "kind", ""),
			body:     `{"delivery":{"seq":12345678901234},"kind":"ping"}`,
			wantID:   "12345678901234",
			wantType: "ping",
		},
		{
			name:    "path through non-object",
			x:       NewExtractor(ledger.ProviderOther, "id.value", "", ""),
			body:    `{"id":"flat"}`,
			wantErr: true,
		},
		{
			name:     "sms without status",
			x:        NewExtractor(ledger.ProviderSMS, "", "", ""),
			body:     `MessageSid=SM1`,
			wantID:   "SM1",
			wantType: ledger.UnknownEventType,
		},
		{
			name:    "sms without sid",
			x:       NewExtractor(ledger.ProviderSMS, "", "", ""),
			body:    `MessageStatus=sent`,
			wantErr: true,
		},
		{
			name:     "header overrides body",
			x:        NewExtractor(ledger.ProviderOther, "", "", "X-Delivery-Id"),
			header:   http.Header{"X-Delivery-Id": []string{" abc "}},
			body:     `{"id":"ignored","type":"t"}`,
			wantID:   "abc",
			wantType: "t",
		},
		{
			name:     "json without type",
			x:        NewExtractor(ledger.ProviderIdentity, "", "", ""),
			body:     `{"data":{"id":"usr_2"}}`,
			wantID:   "usr_2",
			wantType: ledger.UnknownEventType,
		},
		{
			name:     "header id with non-json body",
			x:        NewExtractor(ledger.ProviderOther, "", "", "X-Delivery-Id"),
			header:   http.Header{"X-Delivery-Id": []string{"d-7"}},
			body:     `plain text ping`,
			wantID:   "d-7",
			wantType: ledger.UnknownEventType,
		},
		{
			name:    "header configured but absent",
			x:       NewExtractor(ledger.ProviderOther, "", "", "X-Delivery-Id"),
			body:    `{"id":"ignored"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.header
			if h == nil {
				h = http.Header{}
			}
			id, typ, err := tt.x.Extract(h, []byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantType, typ)
		})
	}
}
