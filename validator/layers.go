package validator

import (
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"

	"github.com/kokukuma/eudiw-verifier/decoder"
	"github.com/kokukuma/eudiw-verifier/internal/logfields"
	"github.com/kokukuma/eudiw-verifier/pkg/hash"
	"github.com/kokukuma/eudiw-verifier/sdjwt"
)

const (
	envelopeVPJWT = "vp_jwt"
	envelopeKBJWT = "kb_jwt"
)

func (v *Validator) checkStructure(p *presentation) *Error {
	res, err := v.normalizer.Normalize(p.sub, p.session.EncryptionKey)
	switch {
	case err == nil:
	case errors.Is(err, decoder.ErrResponseTooLarge):
		return fail(LayerStructure, "vp_token exceeds maximum size")
	case errors.Is(err, decoder.ErrDecrypt):
		return fail(LayerStructure, "failed to decrypt response")
	case errors.Is(err, decoder.ErrUnrecognizedPayload):
		return fail(LayerStructure, "%v", err)
	case errors.Is(err, decoder.ErrMissingVPToken):
		return fail(LayerStructure, "missing or invalid vp_token in request body")
	default:
		return fail(LayerStructure, GenericFailure)
	}
	p.normalized = res

	vp := res.VPToken
	if !strings.Contains(vp, "~") && sdjwt.LooksLikeCompactJWT(vp) {
		outer, err := sdjwt.DecodeJWT(vp)
		if err != nil {
			return fail(LayerStructure, "vp_token is not a decodable JWT")
		}
		p.envelope = outer.Payload
		p.envelopeSource = envelopeVPJWT
		p.credential = credentialFromVP(outer.Payload, vp)
		return nil
	}

	p.credential = vp
	if _, _, kb := sdjwt.Split(vp); kb != "" {
		if kbJWT, err := sdjwt.DecodeJWT(kb); err == nil {
			p.envelope = kbJWT.Payload
			p.envelopeSource = envelopeKBJWT
		}
	}
	return nil
}

// credentialFromVP takes the first credential of a W3C style VP JWT, or
// the token itself when it does not wrap one.
func credentialFromVP(payload map[string]interface{}, vp string) string {
	wrapper, ok := payload["vp"].(map[string]interface{})
	if !ok {
		return vp
	}
	switch vc := wrapper["verifiableCredential"].(type) {
	case string:
		return vc
	case []interface{}:
		if len(vc) > 0 {
			if s, ok := vc[0].(string); ok {
				return s
			}
		}
	}
	return vp
}

func (v *Validator) checkSessionBinding(p *presentation) *Error {
	if p.normalized.State != "" && !secureCompare(p.normalized.State, p.session.ID) {
		return fail(LayerSessionBinding, "state mismatch")
	}

	if p.envelope == nil {
		// nothing carries the session challenge; holder binding rejects it
		v.logger.Debug("no binding envelope in presentation", logfields.WithSessionID(p.session.ID))
		return nil
	}

	nonce, _ := p.envelope["nonce"].(string)
	if !secureCompare(nonce, p.session.Nonce) {
		return fail(LayerSessionBinding, "nonce mismatch, possible replay attack")
	}

	aud := audiences(p.envelope["aud"])
	if !v.identity.AcceptsAudience(aud, v.serviceURL) {
		return fail(LayerSessionBinding, "audience mismatch: got %v", aud)
	}

	now := v.now()
	if iat, ok, err := numericClaim(p.envelope, "iat"); err != nil {
		return fail(LayerSessionBinding, "%v", err)
	} else if ok && iat.After(now.Add(v.maxIATSkew)) {
		return fail(LayerSessionBinding, "iat is in the future")
	}
	if exp, ok, err := numericClaim(p.envelope, "exp"); err != nil {
		return fail(LayerSessionBinding, "%v", err)
	} else if ok && exp.Before(now) {
		return fail(LayerSessionBinding, "VP token is expired")
	}
	return nil
}

func (v *Validator) checkCredentialAssurance(p *presentation) *Error {
	token, err := sdjwt.Parse(p.credential)
	if err != nil {
		return fail(LayerCredentialAssurance, "credential assurance failed: %v", err)
	}
	p.token = token

	if exp, ok, err := numericClaim(token.IssuerJWT.Payload, "exp"); err != nil {
		return fail(LayerCredentialAssurance, "%v", err)
	} else if ok && exp.Before(v.now()) {
		return fail(LayerCredentialAssurance, "credential is expired")
	}

	cert, err := leafCertificate(token.IssuerJWT.Header)
	if err != nil {
		return fail(LayerCredentialAssurance, "invalid issuer certificate: %v", err)
	}
	if cert != nil {
		if err := verifySignature(token.IssuerJWT.Raw, cert); err != nil {
			return fail(LayerCredentialAssurance, "issuer signature invalid")
		}
	}

	snapshot := v.snapshot()
	if len(snapshot.PIDProviders) == 0 {
		if v.strictTrust {
			return fail(LayerCredentialAssurance, "PID provider trust list is empty")
		}
		v.logger.Warn("no PID provider trust list entries, skipping issuer trust check",
			logfields.WithSessionID(p.session.ID),
			logfields.WithLayer(LayerCredentialAssurance),
		)
		return nil
	}

	if cert == nil {
		return fail(LayerCredentialAssurance, "issuer certificate (x5c) missing")
	}
	tp := hash.Thumbprint(cert.Raw)
	if !snapshot.TrustsIssuer(tp) {
		return fail(LayerCredentialAssurance, "issuer certificate is not on the PID provider trust list")
	}
	v.logger.Debug("issuer trusted", logfields.WithThumbprint(tp))
	return nil
}

func (v *Validator) checkHolderBinding(p *presentation) *Error {
	token := p.token
	if token.KeyBindingRaw == "" {
		return fail(LayerHolderBinding, "missing key binding JWT, holder binding required")
	}
	if token.KeyBinding == nil {
		return fail(LayerHolderBinding, "malformed key binding JWT")
	}
	if typ, _ := token.KeyBinding.Header["typ"].(string); typ != sdjwt.KeyBindingType {
		return fail(LayerHolderBinding, "invalid KB-JWT type")
	}

	nonce, _ := token.KeyBinding.Payload["nonce"].(string)
	if !secureCompare(nonce, p.session.Nonce) {
		return fail(LayerHolderBinding, "key binding nonce mismatch")
	}

	holderKey, err := token.HolderKey()
	switch {
	case errors.Is(err, sdjwt.ErrNoHolderKey):
		v.logger.Warn("credential has no holder key, key binding signature not checked",
			logfields.WithSessionID(p.session.ID))
	case err != nil:
		return fail(LayerHolderBinding, "invalid holder key: %v", err)
	default:
		if err := token.VerifyKeyBinding(holderKey); err != nil {
			return fail(LayerHolderBinding, "key binding signature invalid")
		}
	}

	if sdHash, ok := token.KeyBinding.Payload["sd_hash"].(string); ok && sdHash != token.SDHash() {
		return fail(LayerHolderBinding, "sd_hash mismatch")
	}
	return nil
}

func (v *Validator) checkWalletIntegrity(p *presentation) *Error {
	attestation := attestationClaim(p.envelope)
	if attestation == nil {
		v.logger.Debug("no wallet attestation in vp token", logfields.WithSessionID(p.session.ID))
		return nil
	}

	raw, ok := attestation.(string)
	if !ok {
		return fail(LayerWalletIntegrity, "malformed wallet attestation")
	}
	wal, err := sdjwt.DecodeJWT(raw)
	if err != nil {
		return fail(LayerWalletIntegrity, "malformed wallet attestation")
	}

	snapshot := v.snapshot()
	if len(snapshot.WalletProviders) == 0 {
		if v.strictTrust {
			return fail(LayerWalletIntegrity, "wallet provider trust list is empty")
		}
		v.logger.Warn("no wallet provider trust list entries, skipping wallet attestation check",
			logfields.WithSessionID(p.session.ID),
			logfields.WithLayer(LayerWalletIntegrity),
		)
		return nil
	}

	cert, err := leafCertificate(wal.Header)
	if err != nil || cert == nil {
		return fail(LayerWalletIntegrity, "wallet attestation carries no valid certificate")
	}
	if err := verifySignature(raw, cert); err != nil {
		return fail(LayerWalletIntegrity, "wallet attestation signature invalid")
	}
	if !snapshot.TrustsWalletProvider(hash.Thumbprint(cert.Raw)) {
		return fail(LayerWalletIntegrity, "wallet provider is not on the trust list")
	}
	return nil
}

func (v *Validator) checkSelectiveDisclosure(p *presentation) *Error {
	if p.token.DisclosureSegments == 0 {
		return fail(LayerSelectiveDisclosure, "no disclosures found in SD-JWT")
	}
	return nil
}

func (v *Validator) checkBusinessRules(p *presentation) *Error {
	pid := p.token.PIDClaims()
	if err := pid.Validate(); err != nil {
		return fail(LayerBusinessRules, "%v", err)
	}
	p.pid = pid
	return nil
}

func attestationClaim(envelope map[string]interface{}) interface{} {
	if a, ok := envelope["wallet_attestation"]; ok && a != nil {
		return a
	}
	return envelope["wal"]
}

func audiences(v interface{}) []string {
	switch aud := v.(type) {
	case string:
		return []string{aud}
	case []interface{}:
		return lo.FilterMap(aud, func(a interface{}, _ int) (string, bool) {
			s, ok := a.(string)
			return s, ok
		})
	}
	return nil
}

func numericClaim(claims map[string]interface{}, name string) (time.Time, bool, error) {
	raw, ok := claims[name]
	if !ok || raw == nil {
		return time.Time{}, false, nil
	}
	n, ok := raw.(float64)
	if !ok {
		return time.Time{}, false, fmt.Errorf("%s is not a number", name)
	}
	return time.Unix(int64(n), 0), true, nil
}

// leafCertificate parses x5c[0] of a JOSE header. It returns nil without
// error when the header has no x5c.
func leafCertificate(header map[string]interface{}) (*x509.Certificate, error) {
	x5c, ok := header["x5c"].([]interface{})
	if !ok || len(x5c) == 0 {
		return nil, nil
	}
	b64, ok := x5c[0].(string)
	if !ok {
		return nil, errors.New("x5c entry is not a string")
	}
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

func verifySignature(raw string, cert *x509.Certificate) error {
	_, err := jwt.NewParser(
		jwt.WithValidMethods([]string{"ES256", "ES384", "ES512"}),
		jwt.WithoutClaimsValidation(),
	).Parse(raw, func(*jwt.Token) (interface{}, error) {
		return cert.PublicKey, nil
	})
	return err
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
