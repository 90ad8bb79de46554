// Package mockwallet issues and presents SD-JWT PID credentials the way an
// EUDI wallet and PID provider would. It backs tests and local development.
package mockwallet

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/kokukuma/eudiw-verifier/document"
	"github.com/kokukuma/eudiw-verifier/internal/cryptoroot"
	"github.com/kokukuma/eudiw-verifier/pkg/hash"
)

type PID struct {
	GivenName     string
	FamilyName    string
	Birthdate     string
	StreetAddress string
	PostalCode    string
	Locality      string
}

var DefaultPID = PID{
	GivenName:     "Erika",
	FamilyName:    "Mustermann",
	Birthdate:     "1964-08-12",
	StreetAddress: "Heidestrasse 17",
	PostalCode:    "51147",
	Locality:      "Koeln",
}

// Issuer signs credentials with a key certified by its own development chain.
type Issuer struct {
	Key   *ecdsa.PrivateKey
	Chain *cryptoroot.Chain
}

func NewIssuer() (*Issuer, error) {
	key, chain, err := cryptoroot.GenECDSAKeys("pid-provider.example.org")
	if err != nil {
		return nil, err
	}
	return &Issuer{Key: key, Chain: chain}, nil
}

// Thumbprint is the trust list entry for this issuer.
func (i *Issuer) Thumbprint() string {
	tp, _ := i.Chain.LeafThumbprint()
	return tp
}

// Credential is an issued SD-JWT held by a wallet.
type Credential struct {
	IssuerJWT   string
	Disclosures []string
	HolderKey   *ecdsa.PrivateKey
}

// String renders the credential without key binding.
func (c *Credential) String() string {
	return strings.Join(append([]string{c.IssuerJWT}, c.Disclosures...), "~") + "~"
}

type issueConfig struct {
	expiresAt   time.Time
	plainClaims map[string]interface{}
	holderKey   bool
	extra       []string
}

type IssueOption func(*issueConfig)

func WithExpiry(t time.Time) IssueOption {
	return func(c *issueConfig) {
		c.expiresAt = t
	}
}

// WithPlainClaims puts claims directly into the issuer payload.
func WithPlainClaims(claims map[string]interface{}) IssueOption {
	return func(c *issueConfig) {
		c.plainClaims = claims
	}
}

func WithoutHolderKey() IssueOption {
	return func(c *issueConfig) {
		c.holderKey = false
	}
}

// WithExtraDisclosures appends raw segments after the generated disclosures.
func WithExtraDisclosures(raw ...string) IssueOption {
	return func(c *issueConfig) {
		c.extra = append(c.extra, raw...)
	}
}

// IssuePID issues a PID with every claim selectively disclosable. The
// address members are nested disclosures inside a disclosed address object.
func (i *Issuer) IssuePID(pid PID, opts ...IssueOption) (*Credential, error) {
	cfg := &issueConfig{
		expiresAt: time.Now().Add(24 * time.Hour),
		holderKey: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var disclosures, digests []string
	add := func(name string, value interface{}) (string, error) {
		d, err := NewDisclosure(name, value)
		if err != nil {
			return "", err
		}
		disclosures = append(disclosures, d)
		return Digest(d), nil
	}

	for _, c := range []struct {
		name  string
		value string
	}{
		{document.ClaimGivenName, pid.GivenName},
		{document.ClaimFamilyName, pid.FamilyName},
		{document.ClaimBirthdate, pid.Birthdate},
	} {
		if c.value == "" {
			continue
		}
		digest, err := add(c.name, c.value)
		if err != nil {
			return nil, err
		}
		digests = append(digests, digest)
	}

	var addressDigests []string
	for _, c := range []struct {
		name  string
		value string
	}{
		{document.ClaimStreetAddress, pid.StreetAddress},
		{document.ClaimPostalCode, pid.PostalCode},
		{document.ClaimLocality, pid.Locality},
	} {
		if c.value == "" {
			continue
		}
		digest, err := add(c.name, c.value)
		if err != nil {
			return nil, err
		}
		addressDigests = append(addressDigests, digest)
	}
	if len(addressDigests) > 0 {
		digest, err := add(document.ClaimAddress, map[string]interface{}{"_sd": addressDigests})
		if err != nil {
			return nil, err
		}
		digests = append(digests, digest)
	}

	claims := jwt.MapClaims{
		"iss":     "https://pid-provider.example.org",
		"iat":     time.Now().Unix(),
		"exp":     cfg.expiresAt.Unix(),
		"vct":     document.PIDVCT,
		"_sd_alg": "sha-256",
		"_sd":     digests,
	}
	for k, v := range cfg.plainClaims {
		claims[k] = v
	}

	cred := &Credential{Disclosures: append(disclosures, cfg.extra...)}
	if cfg.holderKey {
		holderKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		holderJWK, err := jwk.FromRaw(&holderKey.PublicKey)
		if err != nil {
			return nil, err
		}
		claims["cnf"] = map[string]interface{}{"jwk": holderJWK}
		cred.HolderKey = holderKey
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dc+sd-jwt"
	token.Header["x5c"] = i.Chain.X5C()

	signed, err := token.SignedString(i.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign credential: %w", err)
	}
	cred.IssuerJWT = signed
	return cred, nil
}

// NewDisclosure encodes [salt, name, value].
func NewDisclosure(name string, value interface{}) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	b, err := json.Marshal([]interface{}{base64.RawURLEncoding.EncodeToString(salt), name, value})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func Digest(disclosure string) string {
	return base64.RawURLEncoding.EncodeToString(hash.Digest([]byte(disclosure), "SHA-256"))
}
