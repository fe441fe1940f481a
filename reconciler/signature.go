package reconciler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the webhook signature in the form
// "t=<unix timestamp>,v1=<hex hmac-sha256 of '<t>.<body>'>".
const SignatureHeader = "Waiverly-Billing-Signature"

const DefaultSignatureTolerance = 5 * time.Minute

// SignatureError rejects an untrusted or malformed webhook delivery. The
// detail stays in logs; remote callers only ever see a generic client error.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("webhook signature verification failed: %s", e.Reason)
}

// ComputeSignature signs a payload the way the provider does. Used to build
// the signature header in tests and by provider simulators.
func ComputeSignature(payload []byte, timestamp time.Time, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the signature over the raw body and compares it
// against the header in constant time. Deliveries older (or newer) than the
// tolerance window are rejected to limit replay.
func VerifySignature(payload []byte, header string, secret string, tolerance time.Duration, now time.Time) error {
	if header == "" {
		return &SignatureError{Reason: "missing signature header"}
	}

	var timestamp time.Time
	signatures := make([]string, 0, 1)

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}

		switch key {
		case "t":
			seconds, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return &SignatureError{Reason: "malformed timestamp"}
			}
			timestamp = time.Unix(seconds, 0)
		case "v1":
			signatures = append(signatures, value)
		}
	}

	if timestamp.IsZero() {
		return &SignatureError{Reason: "missing timestamp"}
	}
	if len(signatures) == 0 {
		return &SignatureError{Reason: "missing signature"}
	}

	age := now.Sub(timestamp)
	if age > tolerance || age < -tolerance {
		return &SignatureError{Reason: "timestamp outside tolerance"}
	}

	expected := ComputeSignature(payload, timestamp, secret)
	for _, signature := range signatures {
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return nil
		}
	}

	return &SignatureError{Reason: "signature mismatch"}
}
