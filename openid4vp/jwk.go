package openid4vp

import (
	"crypto"
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// EncryptionJWK exports a session's ephemeral public key for client_metadata.
// The kid is the RFC 7638 thumbprint of the key.
func EncryptionJWK(pub *ecdsa.PublicKey) (jwk.Key, error) {
	key, err := jwk.FromRaw(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to create jwk: %w", err)
	}

	tp, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to compute jwk thumbprint: %w", err)
	}

	if err := key.Set(jwk.KeyIDKey, base64.RawURLEncoding.EncodeToString(tp)); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, jwk.ForEncryption); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.ECDH_ES); err != nil {
		return nil, err
	}
	return key, nil
}
