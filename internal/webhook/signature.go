package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries ComputeHMAC of the request body when the endpoint has a secret.
const SignatureHeader = "X-Flagship-Signature"

// ComputeHMAC returns "sha256=" followed by the hex HMAC-SHA256 of payload.
func ComputeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature was produced by ComputeHMAC with
// the same payload and secret. Receivers use it to authenticate deliveries.
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(signature), []byte(ComputeHMAC(payload, secret)))
}
