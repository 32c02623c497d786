package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const (
	DefaultSignatureHeader = "X-Remonline-Signature"
	DefaultTestSignature   = "test"
)

// Verifier checks the signature header of an inbound delivery.
type Verifier struct {
	Secret string
	// TestSignature, when non-empty, is accepted without checking. It
	// exists for integration testing only.
	TestSignature string
	// AllowUnsigned accepts every delivery while Secret is empty. Without
	// it an empty Secret rejects everything but TestSignature.
	AllowUnsigned bool
}

type verdict int

const (
	signatureInvalid verdict = iota
	signatureValid
	signatureBypassed
	signatureDisabled
)

// Check accepts the shared secret itself or the hex HMAC-SHA256 of body
// keyed with the secret.
func (v Verifier) Check(header string, body []byte) verdict {
	header = strings.TrimSpace(header)
	if v.TestSignature != "" && header == v.TestSignature {
		return signatureBypassed
	}
	if v.Secret == "" {
		if v.AllowUnsigned {
			return signatureDisabled
		}
		return signatureInvalid
	}
	if header == "" {
		return signatureInvalid
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(v.Secret)) == 1 {
		return signatureValid
	}
	given := strings.TrimPrefix(strings.ToLower(header), "sha256=")
	if hmac.Equal([]byte(given), []byte(Sign(v.Secret, body))) {
		return signatureValid
	}
	return signatureInvalid
}

// Sign returns the lowercase hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
