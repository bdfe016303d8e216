package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNewRequestPlacesPayload(t *testing.T) {
	jsonReq := NewRequest("payments", "evt_1", "payment.succeeded", 1, false, []byte(`{"id":"evt_1"}`))
	if string(jsonReq.Payload) != `{"id":"evt_1"}` || jsonReq.Body != "" {
		t.Errorf("JSON payload not carried verbatim: payload=%q body=%q", jsonReq.Payload, jsonReq.Body)
	}

	formReq := NewRequest("sms", "SM1", "delivered", 2, true, []byte("MessageSid=SM1&MessageStatus=delivered"))
	if formReq.Payload != nil || formReq.Body != "MessageSid=SM1&MessageStatus=delivered" {
		t.Errorf("form payload not carried as body: payload=%q body=%q", formReq.Payload, formReq.Body)
	}
	if formReq.Protocol != Version {
		t.Errorf("protocol = %d, want %d", formReq.Protocol, Version)
	}
}

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "json payload",
			req: &Request{
				Protocol:   1,
				Provider:   "payments",
				EventID:    "evt_123",
				EventType:  "payment.succeeded",
				Attempt:    1,
				Payload:    []byte(`{"amount":1200}`),
				DeadlineAt: time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC),
			},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"protocol":1`) {
					t.Error("missing protocol field")
				}
				if !strings.Contains(output, `"event_id":"evt_123"`) {
					t.Error("missing event_id field")
				}
				if !strings.Contains(output, `"payload":{"amount":1200}`) {
					t.Error("payload not embedded as JSON")
				}
				if strings.Contains(output, `"body"`) {
					t.Error("body should be omitted for JSON payloads")
				}
			},
		},
		{
			name:    "unsupported protocol version",
			req:     &Request{Protocol: 2, Provider: "payments", EventID: "evt_1"},
			wantErr: true,
		},
		{
			name:    "missing event id",
			req:     &Request{Protocol: 1, Provider: "payments"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeRequest(&buf, tt.req)

			if (err != nil) != tt.wantErr {
				t.Errorf("EncodeRequest() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestDecodeRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := NewRequest("identity", "usr_9", "user.created", 3, true, []byte(`{"data":{"id":"usr_9"}}`))
	if err := EncodeRequest(&buf, req); err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	got, err := DecodeRequest(&buf)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if got.EventID != "usr_9" || got.Attempt != 3 || !got.Retry {
		t.Errorf("decoded request mismatch: %+v", got)
	}

	if _, err := DecodeRequest(strings.NewReader(`{"protocol":1,"surprise":true}`)); err == nil {
		t.Error("expected unknown field to be rejected")
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		checkFn func(t *testing.T, resp *Response)
	}{
		{
			name:  "empty output is ok",
			input: "  \n",
			checkFn: func(t *testing.T, resp *Response) {
				if !resp.OK() {
					t.Errorf("want ok, got %s", resp.Status)
				}
			},
		},
		{
			name:  "ok with result and logs",
			input: `{"status":"ok","result":{"ledger_entry":"le_1"},"logs":[{"level":"info","message":"applied"}]}`,
			checkFn: func(t *testing.T, resp *Response) {
				if resp.Result["ledger_entry"] != "le_1" {
					t.Error("result not parsed correctly")
				}
				if len(resp.Logs) != 1 || resp.Logs[0].Message != "applied" {
					t.Error("logs not parsed correctly")
				}
			},
		},
		{
			name:  "error response",
			input: `{"status":"error","error":"network timeout"}`,
			checkFn: func(t *testing.T, resp *Response) {
				if resp.OK() || resp.Error != "network timeout" {
					t.Errorf("unexpected response %+v", resp)
				}
			},
		},
		{name: "error without message", input: `{"status":"error"}`, wantErr: true},
		{name: "missing status", input: `{"result":{}}`, wantErr: true},
		{name: "invalid status", input: `{"status":"maybe"}`, wantErr: true},
		{name: "not json", input: `applied ok`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, resp)
			}
		})
	}
}
