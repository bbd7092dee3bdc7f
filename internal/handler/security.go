package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/go-faster/errors"
)

const headerSignature = "X-Signature"

var errBadSignature = errors.New("invalid callback signature")

// CallbackVerifier authenticates payment gateway callbacks signed with
// hex(HMAC-SHA256(secret, body)).
type CallbackVerifier struct {
	secret []byte
}

// NewCallbackVerifier creates a verifier for secret.
func NewCallbackVerifier(secret []byte) *CallbackVerifier {
	return &CallbackVerifier{secret: secret}
}

// Sign returns the signature of body.
func (v *CallbackVerifier) Sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against body in constant time.
func (v *CallbackVerifier) Verify(body []byte, signature string) error {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil || len(got) == 0 {
		return errBadSignature
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return errBadSignature
	}
	return nil
}
