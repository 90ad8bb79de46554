package openid4vp

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kokukuma/eudiw-verifier/document"
	"github.com/kokukuma/eudiw-verifier/internal/cryptoroot"
)

// Builder produces signed authorization requests for sessions.
type Builder struct {
	identity   ClientIdentity
	serviceURL string
	signingKey *ecdsa.PrivateKey
	chain      *cryptoroot.Chain

	encrypted bool
	mdoc      bool
	now       func() time.Time
}

type BuilderOption func(*Builder)

// WithEncryptedResponse selects direct_post.jwt (true) or direct_post.
func WithEncryptedResponse(encrypted bool) BuilderOption {
	return func(b *Builder) {
		b.encrypted = encrypted
	}
}

// WithMdoc adds the mdoc PID as an alternative credential.
func WithMdoc(mdoc bool) BuilderOption {
	return func(b *Builder) {
		b.mdoc = mdoc
	}
}

func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

func NewBuilder(identity ClientIdentity, serviceURL string, signingKey *ecdsa.PrivateKey, chain *cryptoroot.Chain, opts ...BuilderOption) *Builder {
	b := &Builder{
		identity:   identity,
		serviceURL: strings.TrimRight(serviceURL, "/"),
		signingKey: signingKey,
		chain:      chain,
		encrypted:  true,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RequestParams carries the session specific parts of a request.
type RequestParams struct {
	SessionID     string
	Nonce         string
	EncryptionKey *ecdsa.PublicKey
}

func (b *Builder) Identity() ClientIdentity {
	return b.identity
}

func (b *Builder) ServiceURL() string {
	return b.serviceURL
}

func (b *Builder) ResponseMode() string {
	if b.encrypted {
		return ResponseModeDirectPostJWT
	}
	return ResponseModeDirectPost
}

// Query is the DCQL query embedded in every request.
func (b *Builder) Query() document.DCQLQuery {
	return document.PIDQuery(b.mdoc)
}

func (b *Builder) ResponseURI(sessionID string) string {
	return fmt.Sprintf("%s/callback/%s", b.serviceURL, sessionID)
}

func (b *Builder) RequestURI(sessionID string) string {
	return fmt.Sprintf("%s/request/%s", b.serviceURL, sessionID)
}

// WalletURL is the deep link a wallet opens to fetch the request by reference.
func (b *Builder) WalletURL(sessionID string) string {
	ar := &JWTSecuredAuthorizeRequest{
		AuthorizeEndpoint: AuthorizeEndpoint,
		ClientID:          b.identity.ID,
		ClientIDScheme:    b.identity.SchemeParam(),
		RequestURI:        b.RequestURI(sessionID),
	}
	return ar.String()
}

func (b *Builder) RequestObject(p RequestParams) (*RequestObject, error) {
	encKey, err := EncryptionJWK(p.EncryptionKey)
	if err != nil {
		return nil, err
	}

	return &RequestObject{
		AuthorizationRequest: AuthorizationRequest{
			ClientID:       b.identity.ID,
			ClientIDScheme: b.identity.SchemeParam(),
			ResponseType:   ResponseTypeVPToken,
			ResponseMode:   b.ResponseMode(),
			ResponseURI:    b.ResponseURI(p.SessionID),
			Nonce:          p.Nonce,
			State:          p.SessionID,
			DCQLQuery:      b.Query(),
			ClientMetadata: CreateClientMetadata(encKey, b.encrypted, b.mdoc),
		},
		Audience: SelfIssuedAudience,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(b.now()),
		},
	}, nil
}

// SignedRequest builds and signs the request object. Calling it again for
// the same session yields an equivalent request with a fresh iat.
func (b *Builder) SignedRequest(p RequestParams) (string, error) {
	ro, err := b.RequestObject(p)
	if err != nil {
		return "", err
	}
	signed, err := ro.Sign(b.signingKey, b.chain.X5C())
	if err != nil {
		return "", fmt.Errorf("failed to sign request object: %w", err)
	}
	return signed, nil
}
