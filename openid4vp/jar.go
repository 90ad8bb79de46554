package openid4vp

import (
	"crypto/ecdsa"
	"fmt"
	"net/url"

	"github.com/golang-jwt/jwt/v5"
)

const RequestObjectType = "oauth-authz-req+jwt"

type JWTSecuredAuthorizeRequest struct {
	AuthorizeEndpoint string
	ClientID          string `json:"client_id"`
	ClientIDScheme    string `json:"client_id_scheme,omitempty"`
	RequestURI        string `json:"request_uri"`
}

func (a *JWTSecuredAuthorizeRequest) String() string {
	s := fmt.Sprintf(
		"%s?client_id=%s&request_uri=%s",
		a.AuthorizeEndpoint, url.QueryEscape(a.ClientID), url.QueryEscape(a.RequestURI))
	if a.ClientIDScheme != "" {
		s += "&client_id_scheme=" + url.QueryEscape(a.ClientIDScheme)
	}
	return s
}

// RequestObject is the JAR payload. Audience shadows the embedded
// registered claim so aud serializes as a single string.
type RequestObject struct {
	AuthorizationRequest
	Audience string `json:"aud"`
	jwt.RegisteredClaims
}

func (c *RequestObject) Sign(sigKey *ecdsa.PrivateKey, certChain []string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, c)
	token.Header["x5c"] = certChain
	token.Header["typ"] = RequestObjectType

	return token.SignedString(sigKey)
}
