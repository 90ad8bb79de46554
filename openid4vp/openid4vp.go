package openid4vp

import (
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/kokukuma/eudiw-verifier/document"
)

// https://openid.net/specs/openid-4-verifiable-presentations-1_0.html

const (
	// SelfIssuedAudience is the aud of every request object.
	SelfIssuedAudience = "https://self-issued.me/v2"

	ResponseTypeVPToken = "vp_token"

	ResponseModeDirectPost    = "direct_post"
	ResponseModeDirectPostJWT = "direct_post.jwt"

	AuthorizeEndpoint = "openid4vp://"
)

type AuthorizationRequest struct {
	ClientID       string             `json:"client_id"`
	ClientIDScheme string             `json:"client_id_scheme,omitempty"`
	ResponseType   string             `json:"response_type"`
	ResponseMode   string             `json:"response_mode"`
	ResponseURI    string             `json:"response_uri"`
	Nonce          string             `json:"nonce"`
	State          string             `json:"state"`
	DCQLQuery      document.DCQLQuery `json:"dcql_query"`
	ClientMetadata ClientMetadata     `json:"client_metadata"`
}

type ClientMetadata struct {
	JWKS                                JWKS                `json:"jwks"`
	VPFormatsSupported                  map[string]VPFormat `json:"vp_formats_supported"`
	EncryptedResponseEncValuesSupported []string            `json:"encrypted_response_enc_values_supported,omitempty"`
}

type JWKS struct {
	Keys []jwk.Key `json:"keys"`
}

type VPFormat struct {
	// dc+sd-jwt
	SDJWTAlgValues []string `json:"sd-jwt_alg_values,omitempty"`
	KBJWTAlgValues []string `json:"kb-jwt_alg_values,omitempty"`

	// mso_mdoc, COSE algorithm identifiers
	IssuerAuthAlgValues []int `json:"issuerauth_alg_values,omitempty"`
	DeviceAuthAlgValues []int `json:"deviceauth_alg_values,omitempty"`
}

// CreateClientMetadata declares the response encryption key and the
// credential algorithms this verifier accepts.
func CreateClientMetadata(encKey jwk.Key, encrypted, mdoc bool) ClientMetadata {
	md := ClientMetadata{
		JWKS: JWKS{Keys: []jwk.Key{encKey}},
		VPFormatsSupported: map[string]VPFormat{
			document.FormatSDJWT: {
				SDJWTAlgValues: []string{"ES256"},
				KBJWTAlgValues: []string{"ES256"},
			},
		},
	}
	if mdoc {
		md.VPFormatsSupported[document.FormatMdoc] = VPFormat{
			IssuerAuthAlgValues: []int{-7},
			DeviceAuthAlgValues: []int{-7},
		}
	}
	if encrypted {
		md.EncryptedResponseEncValuesSupported = []string{"A128GCM", "A256GCM"}
	}
	return md
}
