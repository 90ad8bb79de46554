package sdjwt

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kokukuma/eudiw-verifier/pkg/hash"
)

var ErrInvalidIssuerJWT = errors.New("failed to decode issuer JWT from credential")

const defaultSDAlg = "sha-256"

// Split separates a presentation into its issuer JWT, the disclosure
// segments and the trailing key binding segment. A presentation without any
// `~` has neither disclosures nor key binding.
func Split(raw string) (issuer string, disclosures []string, kb string) {
	parts := strings.Split(strings.TrimSpace(raw), "~")
	issuer = parts[0]
	if len(parts) == 1 {
		return issuer, nil, ""
	}
	for _, p := range parts[1 : len(parts)-1] {
		if p != "" {
			disclosures = append(disclosures, p)
		}
	}
	return issuer, disclosures, parts[len(parts)-1]
}

// LooksLikeCompactJWT reports whether s has the three dot separated
// segments of a compact JWS.
func LooksLikeCompactJWT(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	return parts[0] != "" && parts[1] != ""
}

// DecodeJWT decodes header and payload of a compact JWS. The signature is
// not checked.
func DecodeJWT(raw string) (*JWT, error) {
	claims := jwt.MapClaims{}
	token, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return nil, err
	}
	return &JWT{
		Raw:     raw,
		Header:  token.Header,
		Payload: claims,
	}, nil
}

// Parse decodes an SD-JWT presentation. Only a broken issuer JWT is an
// error; malformed disclosures are skipped and a malformed key binding JWT
// leaves KeyBinding nil.
func Parse(raw string) (*Token, error) {
	issuer, segments, kb := Split(raw)

	issuerJWT, err := DecodeJWT(issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIssuerJWT, err)
	}

	token := &Token{
		Raw:                strings.TrimSpace(raw),
		IssuerJWT:          issuerJWT,
		DisclosureSegments: len(segments),
		KeyBindingRaw:      kb,
	}

	sdAlg := defaultSDAlg
	if alg, ok := issuerJWT.Payload["_sd_alg"].(string); ok {
		sdAlg = alg
	}

	for _, seg := range segments {
		disc, err := parseDisclosure(seg, sdAlg)
		if err != nil {
			continue
		}
		token.Disclosures = append(token.Disclosures, *disc)
	}

	if kb != "" {
		if kbJWT, err := DecodeJWT(kb); err == nil {
			token.KeyBinding = kbJWT
		}
	}

	return token, nil
}

func parseDisclosure(raw string, sdAlg string) (*Disclosure, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return nil, fmt.Errorf("base64url decode: %w", err)
	}

	var arr []interface{}
	if err := json.Unmarshal(decoded, &arr); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}

	disc := &Disclosure{
		Raw:    raw,
		Digest: base64.RawURLEncoding.EncodeToString(hash.Digest([]byte(raw), sdAlg)),
	}

	switch len(arr) {
	case 3:
		disc.Salt, _ = arr[0].(string)
		disc.Name, _ = arr[1].(string)
		disc.Value = arr[2]
		if disc.Name == "" {
			return nil, errors.New("disclosure claim name is not a string")
		}
	case 2:
		disc.Salt, _ = arr[0].(string)
		disc.Value = arr[1]
		disc.IsArrayEntry = true
	default:
		return nil, fmt.Errorf("unexpected disclosure array length: %d", len(arr))
	}
	return disc, nil
}

// SDHash is the digest a key binding JWT commits to: the presentation up to
// and including the last `~`.
func (t *Token) SDHash() string {
	idx := strings.LastIndex(t.Raw, "~")
	if idx < 0 {
		return ""
	}
	sdAlg := defaultSDAlg
	if alg, ok := t.IssuerJWT.Payload["_sd_alg"].(string); ok {
		sdAlg = alg
	}
	return base64.RawURLEncoding.EncodeToString(hash.Digest([]byte(t.Raw[:idx+1]), sdAlg))
}
