package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
)

const (
	LegacySignatureHeader = "X-Taiga-Webhook-Signature"
	SignatureHeader       = "Taiga-Webhook-Signature"
)

func mac(newHash func() hash.Hash, key string, body []byte) string {
	h := hmac.New(newHash, []byte(key))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Sign returns the hex HMAC-SHA1 and HMAC-SHA256 of body under key.
func Sign(key string, body []byte) (sha1Hex, sha256Hex string) {
	return mac(sha1.New, key, body), mac(sha256.New, key, body)
}

// Headers are the request headers for body signed with key.
func Headers(key string, body []byte) map[string]string {
	legacy, modern := Sign(key, body)
	return map[string]string{
		"Content-Type":        "application/json",
		LegacySignatureHeader: legacy,
		SignatureHeader:       fmt.Sprintf("sha1=%s,sha256=%s", legacy, modern),
	}
}

// Verify checks a signature header value against body.
func Verify(key string, body []byte, header string) bool {
	legacy, modern := Sign(key, body)
	expected := fmt.Sprintf("sha1=%s,sha256=%s", legacy, modern)
	return hmac.Equal([]byte(header), []byte(expected)) || hmac.Equal([]byte(header), []byte(legacy))
}
