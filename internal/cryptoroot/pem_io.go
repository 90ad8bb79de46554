package cryptoroot

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// normalizePEM accepts PEM text whose newlines were escaped as a literal `\n`,
// which is how multi-line values usually end up in environment variables.
func normalizePEM(s string) []byte {
	return []byte(strings.ReplaceAll(strings.TrimSpace(s), `\n`, "\n"))
}

// ParsePrivateKeyPEM parses a PKCS#8 or SEC 1 encoded EC private key.
func ParsePrivateKeyPEM(s string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(normalizePEM(s))
	if block == nil {
		return nil, errors.New("pem block was not found")
	}

	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
		return ecKey, nil
	default:
		return nil, fmt.Errorf("unexpected pem block type %q", block.Type)
	}
}

// ParseCertChainPEM parses every CERTIFICATE block in order. The first one is
// treated as the leaf.
func ParseCertChainPEM(s string) (*Chain, error) {
	rest := normalizePEM(s)
	chain := &Chain{}

	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate %d: %w", len(chain.Certificates), err)
		}
		chain.Certificates = append(chain.Certificates, cert)
	}

	if len(chain.Certificates) == 0 {
		return nil, errors.New("no certificates found in chain")
	}
	return chain, nil
}

// EncodePrivateKeyPEM is the inverse of ParsePrivateKeyPEM (PKCS#8 form).
func EncodePrivateKeyPEM(key *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// EncodeChainPEM renders the chain as concatenated CERTIFICATE blocks.
func EncodeChainPEM(chain *Chain) string {
	var sb strings.Builder
	for _, cert := range chain.Certificates {
		sb.Write(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}))
	}
	return sb.String()
}
