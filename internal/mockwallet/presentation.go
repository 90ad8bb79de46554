package mockwallet

import (
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/kokukuma/eudiw-verifier/internal/cryptoroot"
	"github.com/kokukuma/eudiw-verifier/pkg/hash"
)

type presentConfig struct {
	issuedAt    time.Time
	keyBinding  bool
	attestation string
	signingKey  *ecdsa.PrivateKey
	typ         string
}

type PresentOption func(*presentConfig)

func WithIssuedAt(t time.Time) PresentOption {
	return func(c *presentConfig) {
		c.issuedAt = t
	}
}

// WithoutKeyBinding leaves the trailing segment empty.
func WithoutKeyBinding() PresentOption {
	return func(c *presentConfig) {
		c.keyBinding = false
	}
}

// WithWalletAttestation adds a wallet_attestation claim to the key binding JWT.
func WithWalletAttestation(attestation string) PresentOption {
	return func(c *presentConfig) {
		c.attestation = attestation
	}
}

// WithKeyBindingKey signs the key binding JWT with key instead of the holder key.
func WithKeyBindingKey(key *ecdsa.PrivateKey) PresentOption {
	return func(c *presentConfig) {
		c.signingKey = key
	}
}

func WithKeyBindingType(typ string) PresentOption {
	return func(c *presentConfig) {
		c.typ = typ
	}
}

// Present discloses every claim and binds the presentation to nonce and aud.
func (c *Credential) Present(nonce, aud string, opts ...PresentOption) (string, error) {
	cfg := &presentConfig{
		issuedAt:   time.Now(),
		keyBinding: true,
		signingKey: c.HolderKey,
		typ:        "kb+jwt",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	sdJWT := c.String()
	if !cfg.keyBinding {
		return sdJWT, nil
	}
	if cfg.signingKey == nil {
		return "", fmt.Errorf("credential has no holder key")
	}

	claims := jwt.MapClaims{
		"nonce":   nonce,
		"aud":     aud,
		"iat":     cfg.issuedAt.Unix(),
		"sd_hash": base64.RawURLEncoding.EncodeToString(hash.Digest([]byte(sdJWT), "SHA-256")),
	}
	if cfg.attestation != "" {
		claims["wallet_attestation"] = cfg.attestation
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = cfg.typ

	kb, err := token.SignedString(cfg.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign key binding jwt: %w", err)
	}
	return sdJWT + kb, nil
}

// NewWalletAttestation signs a wallet attestation JWT carrying the
// provider chain in x5c.
func NewWalletAttestation(key *ecdsa.PrivateKey, chain *cryptoroot.Chain) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": "https://wallet-provider.example.org",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["typ"] = "oauth-client-attestation+jwt"
	token.Header["x5c"] = chain.X5C()
	return token.SignedString(key)
}

// EncryptResponse produces the direct_post.jwt `response` value for payload.
func EncryptResponse(payload []byte, pub *ecdsa.PublicKey, enc jose.ContentEncryption) (string, error) {
	encrypter, err := jose.NewEncrypter(enc, jose.Recipient{Algorithm: jose.ECDH_ES, Key: pub}, nil)
	if err != nil {
		return "", err
	}
	obj, err := encrypter.Encrypt(payload)
	if err != nil {
		return "", err
	}
	return obj.CompactSerialize()
}
