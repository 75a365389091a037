// Package crypto signs outbound webhook payloads so receivers can verify
// they came from this service.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Header names set on signed webhook requests.
const (
	HeaderTimestamp = "X-Signalboard-Timestamp"
	HeaderSignature = "X-Signalboard-Signature"
)

// WebhookSigner computes HMAC-SHA256 signatures over timestamp + "." + body.
type WebhookSigner struct {
	Secret string
}

// Headers returns the signature headers for body signed now.
func (s WebhookSigner) Headers(body []byte) map[string]string {
	return s.HeadersAt(body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp.
func (s WebhookSigner) HeadersAt(body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: "sha256=" + s.sign(ts, body),
	}
}

// Verify checks a signature produced by Headers, rejecting timestamps older
// than maxAge.
func (s WebhookSigner) Verify(body []byte, ts, signature string, maxAge time.Duration, now time.Time) error {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: bad timestamp %q", ts)
	}
	if age := now.Sub(time.Unix(unix, 0)); maxAge > 0 && (age > maxAge || age < -maxAge) {
		return fmt.Errorf("crypto: timestamp outside %s window", maxAge)
	}
	want := "sha256=" + s.sign(ts, body)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return fmt.Errorf("crypto: signature mismatch")
	}
	return nil
}

func (s WebhookSigner) sign(ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(s.Secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (s WebhookSigner) String() string {
	if len(s.Secret) <= 4 {
		return "WebhookSigner{secret=****}"
	}
	return "WebhookSigner{secret=" + s.Secret[:4] + "****}"
}
