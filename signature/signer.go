// Package signature signs relayed HTTP bodies with HMAC-SHA256 so receivers
// can authenticate calls forwarded by Courier.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Headers set on signed requests.
const (
	HeaderSignature = "X-Courier-Signature"
	HeaderTimestamp = "X-Courier-Timestamp"
)

// Verification failures.
var (
	ErrMissingHeaders = errors.New("signature: missing signature headers")
	ErrExpired        = errors.New("signature: timestamp outside tolerance")
	ErrMismatch       = errors.New("signature: mismatch")
)

// Signer attaches signatures to outgoing requests. A nil *Signer signs nothing.
type Signer struct {
	secret string
	now    func() time.Time
}

// NewSigner returns a signer for secret, or nil when secret is empty.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{secret: secret, now: time.Now}
}

// Apply sets the timestamp and signature headers for body on h.
func (s *Signer) Apply(h http.Header, body []byte) {
	if s == nil {
		return
	}
	ts := s.now().Unix()
	h.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(HeaderSignature, Sign(body, s.secret, ts))
}

// Sign computes "v1=<hex>" over "{timestamp}.{body}".
func Sign(body []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig matches body, secret and timestamp.
func Verify(body []byte, secret string, timestamp int64, sig string) bool {
	return hmac.Equal([]byte(Sign(body, secret, timestamp)), []byte(sig))
}

// VerifyRequest checks the headers a Signer set. A zero tolerance skips the
// timestamp age check.
func VerifyRequest(h http.Header, body []byte, secret string, tolerance time.Duration) error {
	sig, raw := h.Get(HeaderSignature), h.Get(HeaderTimestamp)
	if sig == "" || raw == "" {
		return ErrMissingHeaders
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("signature: bad timestamp %q: %w", raw, err)
	}
	if tolerance > 0 {
		age := time.Since(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrExpired
		}
	}
	if !Verify(body, secret, ts, sig) {
		return ErrMismatch
	}
	return nil
}
