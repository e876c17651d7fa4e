package payment

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "whsec_test"

var testPayload = []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_status":"paid","metadata":{"order_ref":"MV-2025-000001"}}}}`)

func TestVerifyEventValid(t *testing.T) {
	now := time.Now()
	sig := SignPayload(testPayload, testSecret, now)

	ev, err := VerifyEvent(testPayload, sig, testSecret, DefaultTolerance, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ev.ID != "evt_1" || ev.Type != EventCheckoutCompleted {
		t.Fatalf("decoded event = %+v", ev)
	}
	if got := ev.Data.Object.OrderRef(); got != "MV-2025-000001" {
		t.Fatalf("order ref = %q", got)
	}
}

func TestVerifyEventWrongSecret(t *testing.T) {
	now := time.Now()
	sig := SignPayload(testPayload, "whsec_other", now)

	_, err := VerifyEvent(testPayload, sig, testSecret, DefaultTolerance, now)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyEventTamperedPayload(t *testing.T) {
	now := time.Now()
	sig := SignPayload(testPayload, testSecret, now)

	tampered := append([]byte(nil), testPayload...)
	tampered[len(tampered)-2] = 'x'
	if _, err := VerifyEvent(tampered, sig, testSecret, DefaultTolerance, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyEventStaleTimestamp(t *testing.T) {
	signedAt := time.Now().Add(-10 * time.Minute)
	sig := SignPayload(testPayload, testSecret, signedAt)

	_, err := VerifyEvent(testPayload, sig, testSecret, DefaultTolerance, time.Now())
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyEventEmptySecret(t *testing.T) {
	now := time.Now()
	sig := SignPayload(testPayload, "", now)

	if _, err := VerifyEvent(testPayload, sig, "", DefaultTolerance, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyEventMalformedHeader(t *testing.T) {
	for _, header := range []string{"", "t=abc,v1=00", "v1=00", "t=123"} {
		if _, err := VerifyEvent(testPayload, header, testSecret, 0, time.Now()); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("header %q: err = %v, want ErrBadSignature", header, err)
		}
	}
}
