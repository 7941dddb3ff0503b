package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// encPrefix marks sealed payloads so plaintext records written before
// encryption was configured still deserialize.
const encPrefix = "enc:"

// sealer encrypts session payloads at rest. A nil sealer stores
// plaintext, which keeps local development free of key management.
type sealer struct {
	key [32]byte
}

// newSealer derives a secretbox key from the configured secret. An
// empty secret disables encryption.
func newSealer(secret string) *sealer {
	if secret == "" {
		return nil
	}
	s := &sealer{key: sha256.Sum256([]byte(secret))}
	return s
}

// seal encrypts raw and wraps it in the enc: envelope.
func (s *sealer) seal(raw []byte) (string, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], raw, &nonce, &s.key)
	return encPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// open reverses seal. Payloads without the envelope pass through
// untouched; undecryptable ones return an error so callers treat the
// record as absent.
func (s *sealer) open(stored string) ([]byte, error) {
	if !strings.HasPrefix(stored, encPrefix) {
		return []byte(stored), nil
	}
	if s == nil {
		return nil, fmt.Errorf("encrypted session but no key configured")
	}
	sealed, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(stored, encPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode sealed session: %w", err)
	}
	if len(sealed) < 24 {
		return nil, fmt.Errorf("sealed session too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	raw, ok := secretbox.Open(nil, sealed[24:], &nonce, &s.key)
	if !ok {
		return nil, fmt.Errorf("session payload failed authentication")
	}
	return raw, nil
}

// sealMaybe handles the nil-sealer case.
func (s *sealer) sealMaybe(raw []byte) (string, error) {
	if s == nil {
		return string(raw), nil
	}
	return s.seal(raw)
}
