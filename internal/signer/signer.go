// Package signer computes and checks the HMAC-SHA256 signatures carried in
// the X-Webhook-Signature header.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const prefix = "sha256="

// Sign serializes payload to JSON and signs it with secret. An empty secret
// yields an empty signature.
func Sign(payload any, secret string) (string, error) {
	if secret == "" {
		return "", nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	return SignBytes(body, secret), nil
}

// SignBytes signs an already serialized body. An empty secret yields "".
func SignBytes(body []byte, secret string) string {
	if secret == "" {
		return ""
	}
	return prefix + computeHMAC(body, secret)
}

// Verify recomputes the signature of rawBody and compares it with header in
// constant time. Malformed headers and empty secrets never verify.
func Verify(rawBody []byte, header, secret string) bool {
	if secret == "" || !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hmac.Equal(got, mac.Sum(nil))
}

func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
