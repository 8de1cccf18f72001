// Package webhook authenticates payment provider notifications.
package webhook

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw request body.
const SignatureHeader = "X-Paystack-Signature"

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify reports whether signature is the HMAC of rawBody under the shared
// secret. Without a configured secret nothing verifies.
func (v *Verifier) Verify(rawBody []byte, signature string) bool {
	if v == nil || len(v.secret) == 0 {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, Sign(v.secret, rawBody))
}

func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

func SignHex(secret string, body []byte) string {
	return hex.EncodeToString(Sign([]byte(secret), body))
}
