package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/xraph/courier/signature"
)

func TestSignKnownVector(t *testing.T) {
	body := []byte(`{"event":"test"}`)
	secret := "csec_testsecret123"
	timestamp := int64(1700000000)

	got := signature.Sign(body, secret, timestamp)

	content := fmt.Sprintf("%d.%s", timestamp, body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	expected := "v1=" + hex.EncodeToString(mac.Sum(nil))

	if got != expected {
		t.Errorf("Sign() = %q, want %q", got, expected)
	}
	if len(got) != 67 {
		t.Errorf("expected signature length 67, got %d", len(got))
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	body := []byte(`{"original":true}`)
	secret := "csec_tamper"
	ts := int64(1700000002)
	sig := signature.Sign(body, secret, ts)

	if !signature.Verify(body, secret, ts, sig) {
		t.Fatal("Verify() returned false for valid signature")
	}
	if signature.Verify([]byte(`{"original":false}`), secret, ts, sig) {
		t.Error("Verify() accepted a tampered body")
	}
	if signature.Verify(body, "csec_wrong", ts, sig) {
		t.Error("Verify() accepted the wrong secret")
	}
	if signature.Verify(body, secret, ts+1, sig) {
		t.Error("Verify() accepted the wrong timestamp")
	}
}

func TestNilSignerIsNoop(t *testing.T) {
	s := signature.NewSigner("")
	if s != nil {
		t.Fatal("expected nil signer for empty secret")
	}

	h := http.Header{}
	s.Apply(h, []byte("x"))
	if len(h) != 0 {
		t.Errorf("nil signer set headers: %v", h)
	}
}

func TestApplyThenVerifyRequest(t *testing.T) {
	body := []byte(`{"amount":9900}`)
	h := http.Header{}
	signature.NewSigner("csec_apply").Apply(h, body)

	if err := signature.VerifyRequest(h, body, "csec_apply", time.Minute); err != nil {
		t.Fatalf("VerifyRequest: %v", err)
	}
	if err := signature.VerifyRequest(h, body, "csec_other", time.Minute); !errors.Is(err, signature.ErrMismatch) {
		t.Errorf("expected ErrMismatch, got %v", err)
	}
}

func TestVerifyRequestExpired(t *testing.T) {
	body := []byte("old")
	ts := time.Now().Add(-time.Hour).Unix()
	h := http.Header{}
	h.Set(signature.HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(signature.HeaderSignature, signature.Sign(body, "s", ts))

	if err := signature.VerifyRequest(h, body, "s", 5*time.Minute); !errors.Is(err, signature.ErrExpired) {
		t.Errorf("expected ErrExpired, got %v", err)
	}
	if err := signature.VerifyRequest(h, body, "s", 0); err != nil {
		t.Errorf("zero tolerance should skip age check: %v", err)
	}
}

func TestVerifyRequestMissingHeaders(t *testing.T) {
	if err := signature.VerifyRequest(http.Header{}, nil, "s", 0); !errors.Is(err, signature.ErrMissingHeaders) {
		t.Errorf("expected ErrMissingHeaders, got %v", err)
	}
}
