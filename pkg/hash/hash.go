package hash

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"hash"
	"strings"
)

// New returns a hasher for the given JOSE/SD-JWT style algorithm name.
// Unknown names fall back to SHA-256.
func New(alg string) hash.Hash {
	switch strings.ToUpper(alg) {
	case "SHA-384":
		return sha512.New384()
	case "SHA-512":
		return sha512.New()
	default:
		return sha256.New()
	}
}

func Digest(message []byte, alg string) []byte {
	hasher := New(alg)
	hasher.Write(message)
	return hasher.Sum(nil)
}

// Thumbprint is base64url(SHA-256(data)) without padding, the form used by
// x5t#S256, x509_hash client ids and SD-JWT disclosure digests.
func Thumbprint(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(Digest(data, "SHA-256"))
}
