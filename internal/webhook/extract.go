package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v79"

	"github.com/mattjoyce/hookledger/internal/ledger"
)

// ErrMissingEventID is returned when a verified payload carries no event id.
var ErrMissingEventID = errors.New("event id not found in delivery")

// Extractor pulls the provider event id and type out of a verified body.
// It only ever runs after signature verification.
type Extractor struct {
	Provider ledger.Provider
	// IDPath and TypePath are dotted JSON paths ("data.id").
	IDPath   string
	TypePath string
	// IDHeader, when set, takes the event id from a request header.
	IDHeader string
}

// NewExtractor fills provider defaults for empty paths.
func NewExtractor(p ledger.Provider, idPath, typePath, idHeader string) Extractor {
	x := Extractor{Provider: p, IDPath: idPath, TypePath: typePath, IDHeader: idHeader}
	switch p {
	case ledger.ProviderIdentity:
		if x.IDPath == "" {
			x.IDPath = "data.id"
		}
		if x.TypePath == "" {
			x.TypePath = "data.attributes.name"
		}
	default:
		if x.IDPath == "" {
			x.IDPath = "id"
		}
		if x.TypePath == "" {
			x.TypePath = "type"
		}
	}
	return x
}

// Extract returns (eventID, eventType). A delivery without a type gets
// ledger.UnknownEventType. When IDHeader is set the body is only read for
// the type, so a body that does not decode is not an error.
func (x Extractor) Extract(h http.Header, body []byte) (string, string, error) {
	var id, typ string
	var err error

	switch x.Provider {
	case ledger.ProviderPayments:
		id, typ, err = extractPayments(body)
	case ledger.ProviderSMS:
		id, typ, err = extractSMS(body)
	default:
		id, typ, err = x.extractPaths(body)
	}

	if x.IDHeader != "" {
		id = strings.TrimSpace(h.Get(x.IDHeader))
		if err != nil {
			typ, err = "", nil
		}
	}
	if err != nil {
		return "", "", err
	}
	if id == "" {
		return "", "", ErrMissingEventID
	}
	if typ == "" {
		typ = ledger.UnknownEventType
	}
	return id, typ, nil
}

func extractPayments(body []byte) (string, string, error) {
	var ev stripe.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return "", "", fmt.Errorf("decode payments event: %w", err)
	}
	return ev.ID, string(ev.Type), nil
}

// extractSMS reads a form-encoded status callback. A message reports several
// statuses under one sid, so the status is part of the event id.
func extractSMS(body []byte) (string, string, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return "", "", fmt.Errorf("decode sms callback: %w", err)
	}
	sid := form.Get("MessageSid")
	status := form.Get("MessageStatus")
	if sid == "" {
		return "", status, nil
	}
	if status == "" {
		return sid, "", nil
	}
	return sid + ":" + status, status, nil
}

func (x Extractor) extractPaths(body []byte) (string, string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return "", "", fmt.Errorf("decode %s event: %w", x.Provider, err)
	}
	return lookupString(doc, x.IDPath), lookupString(doc, x.TypePath), nil
}

// lookupString walks a dotted path. Strings and numbers are returned as text;
// anything else yields "".
func lookupString(doc any, path string) string {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		if cur, ok = m[part]; !ok {
			return ""
		}
	}
	switch v := cur.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}
