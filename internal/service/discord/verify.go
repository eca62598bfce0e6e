package discord

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// ParsePublicKey decodes the application's hex-encoded ed25519 key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// Verify checks the detached signature over timestamp||body. It never
// panics and returns false on any malformed input.
func Verify(key ed25519.PublicKey, timestamp string, body []byte, signatureHex string) (ok bool) {
	if timestamp == "" || signatureHex == "" || len(key) != ed25519.PublicKeySize {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	msg := make([]byte, 0, len(timestamp)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, body...)
	return ed25519.Verify(key, msg, sig)
}
