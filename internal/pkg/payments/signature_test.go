package payments

import (
	"strings"
	"testing"
)

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_123","type":"payment_intent.succeeded"}`)
	secret := "whsec_test"
	valid := SignWebhookPayload(payload, secret)

	cases := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		want      bool
	}{
		{"valid signature", payload, valid, secret, true},
		{"valid with sha256 prefix", payload, "sha256=" + valid, secret, true},
		{"valid uppercase hex", payload, strings.ToUpper(valid), secret, true},
		{"valid with surrounding spaces", payload, "  " + valid + "  ", secret, true},
		{"wrong secret", payload, valid, "whsec_other", false},
		{"tampered payload", []byte(`{"id":"evt_999"}`), valid, secret, false},
		{"empty signature", payload, "", secret, false},
		{"empty secret", payload, valid, "", false},
		{"not hex", payload, "zzzz", secret, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VerifyWebhookSignature(tc.payload, tc.signature, tc.secret); got != tc.want {
				t.Errorf("VerifyWebhookSignature() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseProviderEvent(t *testing.T) {
	ev, err := ParseProviderEvent([]byte(`{
		"id": "evt_abc",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_123"}}
	}`))
	if err != nil {
		t.Fatalf("ParseProviderEvent returned error: %v", err)
	}
	if ev.ID != "evt_abc" {
		t.Errorf("ID = %q, want evt_abc", ev.ID)
	}
	if ev.Type != "payment_intent.succeeded" {
		t.Errorf("Type = %q", ev.Type)
	}
	if ev.PaymentReference != "pi_123" {
		t.Errorf("PaymentReference = %q, want pi_123", ev.PaymentReference)
	}

	if _, err := ParseProviderEvent([]byte(`{"type":"x"}`)); err == nil {
		t.Error("expected error for payload without event id")
	}
	if _, err := ParseProviderEvent([]byte(`{"id":"evt_1"}`)); err == nil {
		t.Error("expected error for payload without event type")
	}
	if _, err := ParseProviderEvent([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}
