package validator

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kokukuma/eudiw-verifier/decoder"
	"github.com/kokukuma/eudiw-verifier/document"
	"github.com/kokukuma/eudiw-verifier/internal/cryptoroot"
	"github.com/kokukuma/eudiw-verifier/internal/mockwallet"
	"github.com/kokukuma/eudiw-verifier/internal/trustlist"
	"github.com/kokukuma/eudiw-verifier/openid4vp"
)

const serviceURL = "https://verifier.example.org"

var identity = openid4vp.ClientIdentity{Scheme: openid4vp.ClientIDSchemeX509Hash, ID: "x509_hash:verifier"}

type staticTrust struct {
	snapshot *trustlist.Snapshot
}

func (s staticTrust) Get() (*trustlist.Snapshot, error) {
	if s.snapshot == nil {
		return nil, trustlist.ErrNotLoaded
	}
	return s.snapshot, nil
}

func newSession(t *testing.T, id string) Session {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return Session{ID: id, Nonce: "nonce-" + id, EncryptionKey: key}
}

func newIssuer(t *testing.T) *mockwallet.Issuer {
	t.Helper()
	issuer, err := mockwallet.NewIssuer()
	require.NoError(t, err)
	return issuer
}

func present(t *testing.T, issuer *mockwallet.Issuer, pid mockwallet.PID, nonce, aud string, opts ...mockwallet.PresentOption) string {
	t.Helper()
	cred, err := issuer.IssuePID(pid)
	require.NoError(t, err)
	vp, err := cred.Present(nonce, aud, opts...)
	require.NoError(t, err)
	return vp
}

func plainSubmission(t *testing.T, vp, state string) *decoder.Submission {
	t.Helper()
	body := url.Values{"vp_token": {vp}, "state": {state}}.Encode()
	sub, err := decoder.ParseSubmission("application/x-www-form-urlencoded", []byte(body))
	require.NoError(t, err)
	return sub
}

func encryptedSubmission(t *testing.T, vp string, session Session) *decoder.Submission {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"vp_token": map[string][]string{document.PIDSDJWTCredentialID: {vp}},
		"state":    session.ID,
	})
	require.NoError(t, err)

	jwe, err := mockwallet.EncryptResponse(payload, &session.EncryptionKey.PublicKey, jose.A128GCM)
	require.NoError(t, err)

	body := url.Values{"response": {jwe}, "state": {session.ID}}.Encode()
	sub, err := decoder.ParseSubmission("application/x-www-form-urlencoded", []byte(body))
	require.NoError(t, err)
	return sub
}

func newValidator(t *testing.T, snapshot *trustlist.Snapshot, opts ...Option) *Validator {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(identity, serviceURL, staticTrust{snapshot: snapshot}, opts...)
}

func requireLayer(t *testing.T, err error, layer int) {
	t.Helper()
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, layer, verr.Layer, verr.Message)
}

func TestValidateTransportIndependence(t *testing.T) {
	issuer := newIssuer(t)
	session := newSession(t, "a")
	v := newValidator(t, &trustlist.Snapshot{})

	vp := present(t, issuer, mockwallet.DefaultPID, session.Nonce, identity.ID)

	plain, err := v.Validate(context.Background(), plainSubmission(t, vp, session.ID), session)
	require.NoError(t, err)

	encrypted, err := v.Validate(context.Background(), encryptedSubmission(t, vp, session), session)
	require.NoError(t, err)

	assert.Equal(t, plain, encrypted)
	assert.Equal(t, document.PidClaims{
		GivenName:     "Erika",
		FamilyName:    "Mustermann",
		BirthDate:     "1964-08-12",
		StreetAddress: "Heidestrasse 17",
		PostalCode:    "51147",
		Locality:      "Koeln",
	}, plain)
}

func TestValidateCrossSessionNonceFailsAtSessionBinding(t *testing.T) {
	issuer := newIssuer(t)
	sessionA := newSession(t, "a")
	sessionB := newSession(t, "b")
	v := newValidator(t, &trustlist.Snapshot{})

	vp := present(t, issuer, mockwallet.DefaultPID, sessionA.Nonce, identity.ID)

	_, err := v.Validate(context.Background(), plainSubmission(t, vp, sessionB.ID), sessionB)
	requireLayer(t, err, LayerSessionBinding)
	assert.Contains(t, err.Error(), "nonce mismatch")

	_, err = v.Validate(context.Background(), encryptedSubmission(t, vp, sessionB), sessionB)
	requireLayer(t, err, LayerSessionBinding)
}

func TestValidateMissingKeyBindingFailsAtHolderBinding(t *testing.T) {
	issuer := newIssuer(t)
	session := newSession(t, "a")
	v := newValidator(t, &trustlist.Snapshot{})

	vp := present(t, issuer, mockwallet.DefaultPID, session.Nonce, identity.ID, mockwallet.WithoutKeyBinding())
	require.Equal(t, byte('~'), vp[len(vp)-1])

	_, err := v.Validate(context.Background(), plainSubmission(t, vp, session.ID), session)
	requireLayer(t, err, LayerHolderBinding)
}

func TestValidateLenientBirthDate(t *testing.T) {
	issuer := newIssuer(t)
	session := newSession(t, "a")
	v := newValidator(t, &trustlist.Snapshot{})

	pid := mockwallet.DefaultPID
	pid.Birthdate = "1990-13-40"
	vp := present(t, issuer, pid, session.Nonce, identity.ID)

	claims, err := v.Validate(context.Background(), plainSubmission(t, vp, session.ID), session)
	require.NoError(t, err)
	assert.Equal(t, "1990-13-40", claims.BirthDate)
}

func TestValidateLayers(t *testing.T) {
	issuer := newIssuer(t)
	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	providerKey, providerChain, err := cryptoroot.GenECDSAKeys("wallet-provider.example.org")
	require.NoError(t, err)
	providerTP, err := providerChain.LeafThumbprint()
	require.NoError(t, err)
	attestation, err := mockwallet.NewWalletAttestation(providerKey, providerChain)
	require.NoError(t, err)

	expired, err := issuer.IssuePID(mockwallet.DefaultPID, mockwallet.WithExpiry(time.Now().Add(-time.Minute)))
	require.NoError(t, err)

	tests := []struct {
		name     string
		build    func(s Session) *decoder.Submission
		snapshot *trustlist.Snapshot
		opts     []Option
		layer    int
	}{
		{
			name: "missing vp_token",
			build: func(s Session) *decoder.Submission {
				sub, _ := decoder.ParseSubmission("application/x-www-form-urlencoded", []byte("state="+s.ID))
				return sub
			},
			layer: LayerStructure,
		},
		{
			name: "response encrypted to another key",
			build: func(s Session) *decoder.Submission {
				vp := present(t, issuer, mockwallet.DefaultPID, s.Nonce, identity.ID)
				other := s
				other.EncryptionKey = otherKey
				return encryptedSubmission(t, vp, other)
			},
			layer: LayerStructure,
		},
		{
			name: "state mismatch",
			build: func(s Session) *decoder.Submission {
				return plainSubmission(t, present(t, issuer, mockwallet.DefaultPID, s.Nonce, identity.ID), "other")
			},
			layer: LayerSessionBinding,
		},
		{
			name: "audience mismatch",
			build: func(s Session) *decoder.Submission {
				return plainSubmission(t, present(t, issuer, mockwallet.DefaultPID, s.Nonce, "https://rp.example"), s.ID)
			},
			layer: LayerSessionBinding,
		},
		{
			name: "service url audience accepted",
			build: func(s Session) *decoder.Submission {
				return plainSubmission(t, present(t, issuer, mockwallet.DefaultPID, s.Nonce, serviceURL), s.ID)
			},
		},
		{
			name: "iat in the future",
			build: func(s Session) *decoder.Submission {
				vp := present(t, issuer, mockwallet.DefaultPID, s.Nonce, identity.ID, mockwallet.WithIssuedAt(time.Now().Add(2*time.Minute)))
				return plainSubmission(t, vp, s.ID)
			},
			layer: LayerSessionBinding,
		},
		{
			name: "expired credential",
			build: func(s Session) *decoder.Submission {
				vp, err := expired.Present(s.Nonce, identity.ID)
				require.NoError(t, err)
				return plainSubmission(t, vp, s.ID)
			},
			layer: LayerCredentialAssurance,
		},
		{
			name: "issuer not on trust list",
			build: func(s Session) *decoder.Submission {
				return plainSubmission(t, present(t, issuer, mockwallet.DefaultPID, s.Nonce, identity.ID), s.ID)
			},
			snapshot: &trustlist.Snapshot{PIDProviders: []string{"someone-else"}},
			layer:    LayerCredentialAssurance,
		},
		{
			name: "issuer on trust list",
			build: func(s Session) *decoder.Submission {
				return plainSubmission(t, present(t, issuer, mockwallet.DefaultPID, s.Nonce, identity.ID), s.ID)
			},
			snapshot: &trustlist.Snapshot{PIDProviders: []string{issuer.Thumbprint()}},
		},
		{
			name: "strict trust with empty list",
			build: func(s Session) *decoder.Submission {
				return plainSubmission(t, present(t, issuer, mockwallet.DefaultPID, s.Nonce, identity.ID), s.ID)
			},
			opts:  []Option{WithStrictTrust(true)},
			layer: LayerCredentialAssurance,
		},
		{
			name: "wrong key binding type",
			build: func(s Session) *decoder.Submission {
				vp := present(t, issuer, mockwallet.DefaultPID, s.Nonce, identity.ID, mockwallet.WithKeyBindingType("JWT"))
				return plainSubmission(t, vp, s.ID)
			},
			layer: LayerHolderBinding,
		},
		{
			name: "key binding signed by another key",
			build: func(s Session) *decoder.Submission {
				vp := present(t, issuer, mockwallet.DefaultPID, s.Nonce, identity.ID, mockwallet.WithKeyBindingKey(otherKey))
				return plainSubmission(t, vp, s.ID)
			},
			layer: LayerHolderBinding,
		},
		{
			name: "disclosure dropped after key binding",
			build: func(s Session) *decoder.Submission {
				parts := strings.Split(present(t, issuer, mockwallet.DefaultPID, s.Nonce, identity.ID), "~")
				require.Greater(t, len(parts), 3)
				tampered := append([]string{parts[0]}, parts[2:]...)
				return plainSubmission(t, strings.Join(tampered, "~"), s.ID)
			},
			layer: LayerHolderBinding,
		},
		{
			name: "wallet attestation from unknown provider",
			build: func(s Session) *decoder.Submission {
				vp := present(t, issuer, mockwallet.DefaultPID, s.Nonce, identity.ID, mockwallet.WithWalletAttestation(attestation))
				return plainSubmission(t, vp, s.ID)
			},
			snapshot: &trustlist.Snapshot{WalletProviders: []string{"someone-else"}},
			layer:    LayerWalletIntegrity,
		},
		{
			name: "wallet attestation from trusted provider",
			build: func(s Session) *decoder.Submission {
				vp := present(t, issuer, mockwallet.DefaultPID, s.Nonce, identity.ID, mockwallet.WithWalletAttestation(attestation))
				return plainSubmission(t, vp, s.ID)
			},
			snapshot: &trustlist.Snapshot{WalletProviders: []string{providerTP}},
		},
		{
			name: "malformed wallet attestation",
			build: func(s Session) *decoder.Submission {
				vp := present(t, issuer, mockwallet.DefaultPID, s.Nonce, identity.ID, mockwallet.WithWalletAttestation("not-a-jwt"))
				return plainSubmission(t, vp, s.ID)
			},
			layer: LayerWalletIntegrity,
		},
		{
			name: "no disclosures",
			build: func(s Session) *decoder.Submission {
				return plainSubmission(t, present(t, issuer, mockwallet.PID{}, s.Nonce, identity.ID), s.ID)
			},
			layer: LayerSelectiveDisclosure,
		},
		{
			name: "missing family name",
			build: func(s Session) *decoder.Submission {
				pid := mockwallet.DefaultPID
				pid.FamilyName = ""
				return plainSubmission(t, present(t, issuer, pid, s.Nonce, identity.ID), s.ID)
			},
			layer: LayerBusinessRules,
		},
		{
			name: "invalid birth date format",
			build: func(s Session) *decoder.Submission {
				pid := mockwallet.DefaultPID
				pid.Birthdate = "12.08.1964"
				return plainSubmission(t, present(t, issuer, pid, s.Nonce, identity.ID), s.ID)
			},
			layer: LayerBusinessRules,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newSession(t, "a")
			snapshot := tt.snapshot
			if snapshot == nil {
				snapshot = &trustlist.Snapshot{}
			}

			_, err := newValidator(t, snapshot, tt.opts...).Validate(context.Background(), tt.build(session), session)
			if tt.layer == 0 {
				assert.NoError(t, err)
				return
			}
			requireLayer(t, err, tt.layer)
		})
	}
}

func TestValidateVPJWTEnvelope(t *testing.T) {
	issuer := newIssuer(t)
	session := newSession(t, "a")

	cred, err := issuer.IssuePID(mockwallet.DefaultPID)
	require.NoError(t, err)
	inner, err := cred.Present(session.Nonce, identity.ID)
	require.NoError(t, err)
	stale, err := cred.Present("stale-nonce", identity.ID)
	require.NoError(t, err)

	wrap := func(nonce, credential string, exp time.Time) string {
		token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
			"nonce": nonce,
			"aud":   []string{"other", identity.ID},
			"iat":   time.Now().Add(-2 * time.Minute).Unix(),
			"exp":   exp.Unix(),
			"vp":    map[string]interface{}{"verifiableCredential": []string{credential}},
		})
		s, err := token.SignedString(cred.HolderKey)
		require.NoError(t, err)
		return s
	}
	valid := time.Now().Add(time.Minute)

	v := newValidator(t, nil)

	claims, err := v.Validate(context.Background(), plainSubmission(t, wrap(session.Nonce, inner, valid), session.ID), session)
	require.NoError(t, err)
	assert.Equal(t, "Erika", claims.GivenName)

	_, err = v.Validate(context.Background(), plainSubmission(t, wrap("replayed", inner, valid), session.ID), session)
	requireLayer(t, err, LayerSessionBinding)

	_, err = v.Validate(context.Background(), plainSubmission(t, wrap(session.Nonce, inner, time.Now().Add(-time.Minute)), session.ID), session)
	requireLayer(t, err, LayerSessionBinding)
	assert.EqualError(t, err, "[Layer 2] VP token is expired")

	// a fresh envelope around a key binding JWT answering another challenge
	_, err = v.Validate(context.Background(), plainSubmission(t, wrap(session.Nonce, stale, valid), session.ID), session)
	requireLayer(t, err, LayerHolderBinding)
	assert.EqualError(t, err, "[Layer 4] key binding nonce mismatch")
}

func TestValidateObserverAndCancel(t *testing.T) {
	issuer := newIssuer(t)
	session := newSession(t, "a")

	var observed []int
	v := newValidator(t, &trustlist.Snapshot{}, WithObserver(func(layer int, _ time.Duration) {
		observed = append(observed, layer)
	}))

	vp := present(t, issuer, mockwallet.DefaultPID, session.Nonce, identity.ID)
	_, err := v.Validate(context.Background(), plainSubmission(t, vp, session.ID), session)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), plainSubmission(t, vp, "wrong"), session)
	require.Error(t, err)
	assert.Equal(t, []int{0, LayerSessionBinding}, observed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = v.Validate(ctx, plainSubmission(t, vp, session.ID), session)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, GenericFailure, PublicMessage(err))
	assert.Equal(t, 0, FailedLayer(err))
}

func TestErrorFormatting(t *testing.T) {
	err := fail(LayerHolderBinding, "key binding nonce mismatch")
	assert.Equal(t, "[Layer 4] key binding nonce mismatch", err.Error())
	assert.Equal(t, "[Layer 4] key binding nonce mismatch", PublicMessage(err))
	assert.Equal(t, LayerHolderBinding, FailedLayer(err))
}
