package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the provider's HMAC over the raw request body.
const SignatureHeader = "X-Acuity-Signature"

const algorithmPrefix = "sha256="

// VerifyReason explains why a signature check failed.
type VerifyReason string

const (
	ReasonOK             VerifyReason = "ok"
	ReasonNoSecret       VerifyReason = "no-secret-configured"
	ReasonNoSignature    VerifyReason = "no-signature-header"
	ReasonLengthMismatch VerifyReason = "length-mismatch"
	ReasonMismatch       VerifyReason = "mismatch"
)

// VerifyResult is the outcome of one signature check.
type VerifyResult struct {
	Valid  bool
	Reason VerifyReason
}

// VerifySignature checks the claimed signature against an HMAC-SHA256 of the
// exact raw body bytes. It must never run on a re-serialized representation:
// JSON round-trips are not byte-stable and would produce false negatives. The
// optional algorithm prefix on the header is stripped, and the comparison is
// constant-time.
func VerifySignature(secret string, body []byte, header string) VerifyResult {
	if strings.TrimSpace(secret) == "" {
		return VerifyResult{Reason: ReasonNoSecret}
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return VerifyResult{Reason: ReasonNoSignature}
	}
	header = strings.TrimPrefix(header, algorithmPrefix)

	provided, err := hex.DecodeString(header)
	if err != nil {
		return VerifyResult{Reason: ReasonMismatch}
	}
	if len(provided) != sha256.Size {
		return VerifyResult{Reason: ReasonLengthMismatch}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return VerifyResult{Reason: ReasonMismatch}
	}
	return VerifyResult{Valid: true, Reason: ReasonOK}
}

// ComputeSignature produces the header value for a body, prefix included.
// Used by tests and by outbound webhook simulation tooling.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return algorithmPrefix + hex.EncodeToString(mac.Sum(nil))
}
