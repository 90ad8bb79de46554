package cryptoroot

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"

	pkghash "github.com/kokukuma/eudiw-verifier/pkg/hash"
)

// Chain is an X.509 certificate chain ordered leaf first.
type Chain struct {
	Certificates []*x509.Certificate
}

// Leaf returns the first certificate of the chain.
func (c *Chain) Leaf() *x509.Certificate {
	if c == nil || len(c.Certificates) == 0 {
		return nil
	}
	return c.Certificates[0]
}

// X5C encodes the chain as a JOSE x5c header value (standard base64 DER).
func (c *Chain) X5C() []string {
	x5c := make([]string, 0, len(c.Certificates))
	for _, cert := range c.Certificates {
		x5c = append(x5c, base64.StdEncoding.EncodeToString(cert.Raw))
	}
	return x5c
}

// LeafThumbprint is base64url(SHA-256(DER(leaf))).
func (c *Chain) LeafThumbprint() (string, error) {
	leaf := c.Leaf()
	if leaf == nil {
		return "", errors.New("certificate chain is empty")
	}
	return pkghash.Thumbprint(leaf.Raw), nil
}

// HasDNSName reports whether the leaf certificate carries name as a DNS SAN.
func (c *Chain) HasDNSName(name string) bool {
	leaf := c.Leaf()
	if leaf == nil {
		return false
	}
	for _, dns := range leaf.DNSNames {
		if dns == name {
			return true
		}
	}
	return false
}

// GenECDSAKeys creates an in-memory root CA and a P-256 end-entity key and
// certificate issued by it. It is used for local development and tests in
// place of a registrar-issued access certificate.
func GenECDSAKeys(dnsName string) (*ecdsa.PrivateKey, *Chain, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	rootCert, err := createRootCertificate(rootKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create root certificate: %w", err)
	}

	eeKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	eeCert, err := createEndEntityCertificate(eeKey, dnsName, rootCert, rootKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create end-entity certificate: %w", err)
	}

	return eeKey, &Chain{Certificates: []*x509.Certificate{eeCert, rootCert}}, nil
}

func CalcKID(pub *ecdsa.PublicKey, hashAlgo string) []byte {
	b := elliptic.Marshal(pub.Curve, pub.X, pub.Y)

	var h hash.Hash
	switch hashAlgo {
	case "sha1":
		h = sha1.New()
	default:
		h = sha256.New()
	}

	h.Write(b)
	return h.Sum(nil)
}
