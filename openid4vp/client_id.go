package openid4vp

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/kokukuma/eudiw-verifier/internal/cryptoroot"
)

const (
	ClientIDSchemeX509Hash   = "x509_hash"
	ClientIDSchemeX509SanDNS = "x509_san_dns"
)

// ClientIdentity is the verifier's client_id under exactly one scheme. It is
// shared between request signing and the audience check of responses.
type ClientIdentity struct {
	Scheme string
	ID     string
}

// NewClientIdentity derives the identity for scheme from the signing chain.
// staticID is only used by x509_san_dns.
func NewClientIdentity(scheme, staticID string, chain *cryptoroot.Chain) (ClientIdentity, error) {
	switch scheme {
	case ClientIDSchemeX509Hash:
		tp, err := chain.LeafThumbprint()
		if err != nil {
			return ClientIdentity{}, err
		}
		return ClientIdentity{Scheme: scheme, ID: ClientIDSchemeX509Hash + ":" + tp}, nil
	case ClientIDSchemeX509SanDNS:
		if staticID == "" {
			return ClientIdentity{}, errors.New("client id is required for x509_san_dns")
		}
		return ClientIdentity{Scheme: scheme, ID: staticID}, nil
	default:
		return ClientIdentity{}, fmt.Errorf("unsupported client id scheme: %q", scheme)
	}
}

// SchemeParam is the explicit client_id_scheme parameter. x509_hash ids carry
// their scheme as a prefix, so none is sent for them.
func (c ClientIdentity) SchemeParam() string {
	if c.Scheme == ClientIDSchemeX509SanDNS {
		return ClientIDSchemeX509SanDNS
	}
	return ""
}

// AcceptsAudience reports whether any of aud names this verifier, either by
// client_id or by its service URL.
func (c ClientIdentity) AcceptsAudience(aud []string, serviceURL string) bool {
	return lo.SomeBy(aud, func(a string) bool {
		return a != "" && (a == c.ID || a == serviceURL)
	})
}
