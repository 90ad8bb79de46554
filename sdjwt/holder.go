package sdjwt

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// KeyBindingType is the typ header of a key binding JWT.
const KeyBindingType = "kb+jwt"

var ErrNoHolderKey = errors.New("credential has no cnf.jwk")

// HolderKey imports the holder public key the issuer bound through cnf.jwk.
func (t *Token) HolderKey() (*ecdsa.PublicKey, error) {
	cnf, ok := t.IssuerJWT.Payload["cnf"].(map[string]interface{})
	if !ok {
		return nil, ErrNoHolderKey
	}
	raw, ok := cnf["jwk"].(map[string]interface{})
	if !ok {
		return nil, ErrNoHolderKey
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	key, err := jwk.ParseKey(b)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cnf.jwk: %w", err)
	}

	var pub ecdsa.PublicKey
	if err := key.Raw(&pub); err != nil {
		return nil, fmt.Errorf("cnf.jwk is not an EC public key: %w", err)
	}
	return &pub, nil
}

// VerifyKeyBinding checks the key binding JWT signature against pub. Time
// based claims are checked by the caller.
func (t *Token) VerifyKeyBinding(pub *ecdsa.PublicKey) error {
	if t.KeyBinding == nil {
		return errors.New("key binding JWT is missing or malformed")
	}
	_, err := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithoutClaimsValidation(),
	).Parse(t.KeyBinding.Raw, func(*jwt.Token) (interface{}, error) {
		return pub, nil
	})
	return err
}
