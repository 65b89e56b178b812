package stripe

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

const testSecret = "whsec_test"

func TestVerifySignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	now := time.Unix(1_700_000_000, 0)
	header := GenerateSignatureHeader(payload, testSecret, now)

	if err := VerifySignature(payload, header, testSecret, 5*time.Minute, now.Add(time.Minute)); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifySignatureFailures(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Unix(1_700_000_000, 0)
	valid := GenerateSignatureHeader(payload, testSecret, now)

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		at      time.Time
		want    error
	}{
		{"no header", payload, "", testSecret, now, ErrMissingSignature},
		{"no secret", payload, valid, "", now, ErrMissingSignature},
		{"garbage header", payload, "nonsense", testSecret, now, ErrInvalidHeader},
		{"tampered body", []byte(`{"id":"evt_2"}`), valid, testSecret, now, ErrInvalidSignature},
		{"wrong secret", payload, valid, "whsec_other", now, ErrInvalidSignature},
		{"too old", payload, valid, testSecret, now.Add(10 * time.Minute), ErrTimestampTolerance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.payload, tt.header, tt.secret, 5*time.Minute, tt.at)
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestVerifySignatureAcceptsAnyV1(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Unix(1_700_000_000, 0)
	good := GenerateSignatureHeader(payload, testSecret, now)
	header := "t=" + strconv.FormatInt(now.Unix(), 10) + ",v1=deadbeef," + good[len("t=1700000000,"):]

	if err := VerifySignature(payload, header, testSecret, 0, now); err != nil {
		t.Fatalf("expected second v1 to match, got %v", err)
	}
}

func TestParseCheckoutSession(t *testing.T) {
	payload := []byte(`{
		"id":"evt_1",
		"type":"checkout.session.completed",
		"data":{"object":{
			"id":"cs_test_1",
			"payment_status":"paid",
			"currency":"eur",
			"amount_total":999,
			"metadata":{"userId":"u1","tokens":"1000"}
		}}
	}`)

	ev, err := ParseEvent(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Type != EventCheckoutSessionCompleted {
		t.Fatalf("unexpected type %q", ev.Type)
	}
	s, err := ev.CheckoutSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if s.ID != "cs_test_1" || s.AmountTotal != 999 || s.Metadata["tokens"] != "1000" {
		t.Fatalf("unexpected session %+v", s)
	}
}
