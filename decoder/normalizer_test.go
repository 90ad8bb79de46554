package decoder

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kokukuma/eudiw-verifier/internal/mockwallet"
)

func genKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func presentation(t *testing.T) string {
	t.Helper()
	issuer, err := mockwallet.NewIssuer()
	require.NoError(t, err)
	cred, err := issuer.IssuePID(mockwallet.DefaultPID)
	require.NoError(t, err)
	vp, err := cred.Present("nonce", "aud")
	require.NoError(t, err)
	return vp
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func formRequest(values url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/callback/s1", strings.NewReader(values.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func normalize(t *testing.T, r *http.Request, key *ecdsa.PrivateKey, opts ...Option) (*Result, error) {
	t.Helper()
	sub, err := ReadSubmission(r, 4<<20)
	require.NoError(t, err)
	opts = append(opts, WithLogger(zaptest.NewLogger(t)))
	return NewNormalizer(opts...).Normalize(sub, key)
}

func TestNormalizeEncryptedResponse(t *testing.T) {
	key := genKey(t)
	vp := presentation(t)

	signer := genKey(t)
	jarm := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{"vp_token": vp, "state": "s1"})
	jarmString, err := jarm.SignedString(signer)
	require.NoError(t, err)

	jwsPayload := base64.RawURLEncoding.EncodeToString(mustJSON(t, map[string]interface{}{
		"vp_token": map[string][]string{"pid-sd-jwt": {vp}},
	}))

	tests := []struct {
		name           string
		payload        []byte
		interpretation string
		state          string
	}{
		{
			name:           "json with string vp_token",
			payload:        mustJSON(t, map[string]string{"vp_token": vp, "state": "s1"}),
			interpretation: InterpretJSONVPToken,
			state:          "s1",
		},
		{
			name:           "json with array vp_token",
			payload:        []byte(`{"vp_token":["` + vp + `"],"state":"s1"}`),
			interpretation: InterpretJSONVPToken,
			state:          "s1",
		},
		{
			name:           "dcql map takes first credential of first id",
			payload:        []byte(`{"vp_token":{"pid-sd-jwt":["` + vp + `","second"],"pid-mdoc":["other"]},"state":"s1"}`),
			interpretation: InterpretDCQLMap,
			state:          "s1",
		},
		{
			name:           "jarm",
			payload:        []byte(jarmString),
			interpretation: InterpretJARM,
			state:          "s1",
		},
		{
			name:           "json serialized jws",
			payload:        mustJSON(t, map[string]interface{}{"payload": jwsPayload, "signatures": []interface{}{}}),
			interpretation: InterpretJSONJWS,
			state:          "form-state",
		},
		{
			name:           "bare presentation",
			payload:        []byte(vp),
			interpretation: InterpretBare,
			state:          "form-state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jwe, err := mockwallet.EncryptResponse(tt.payload, &key.PublicKey, jose.A128GCM)
			require.NoError(t, err)

			res, err := normalize(t, formRequest(url.Values{"response": {jwe}, "state": {"form-state"}}), key)
			require.NoError(t, err)

			assert.Equal(t, vp, res.VPToken)
			assert.Equal(t, StrategyEncryptedResponse, res.Strategy)
			assert.Equal(t, tt.interpretation, res.Interpretation)
			assert.True(t, res.Encrypted)
			assert.Equal(t, tt.state, res.State)
		})
	}
}

func TestNormalizeEncryptedErrors(t *testing.T) {
	key := genKey(t)

	t.Run("unrecognized payload", func(t *testing.T) {
		jwe, err := mockwallet.EncryptResponse([]byte("hello world"), &key.PublicKey, jose.A256GCM)
		require.NoError(t, err)
		_, err = normalize(t, formRequest(url.Values{"response": {jwe}}), key)
		assert.ErrorIs(t, err, ErrUnrecognizedPayload)
	})

	t.Run("json object without usable vp_token", func(t *testing.T) {
		vp := presentation(t)
		payload := []byte(`{"vp_token":[42],"state":"s1","presentation":"` + vp + `"}`)
		jwe, err := mockwallet.EncryptResponse(payload, &key.PublicKey, jose.A256GCM)
		require.NoError(t, err)

		res, err := normalize(t, formRequest(url.Values{"response": {jwe}}), key)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrUnrecognizedPayload)
		assert.ErrorContains(t, err, "json object with unusable vp_token")
	})

	t.Run("json array", func(t *testing.T) {
		jwe, err := mockwallet.EncryptResponse([]byte(`["a.b.c~d~"]`), &key.PublicKey, jose.A256GCM)
		require.NoError(t, err)
		_, err = normalize(t, formRequest(url.Values{"response": {jwe}}), key)
		assert.ErrorIs(t, err, ErrUnrecognizedPayload)
		assert.ErrorContains(t, err, "json array")
	})

	t.Run("wrong key", func(t *testing.T) {
		jwe, err := mockwallet.EncryptResponse([]byte(`{"vp_token":"x"}`), &key.PublicKey, jose.A128GCM)
		require.NoError(t, err)
		_, err = normalize(t, formRequest(url.Values{"response": {jwe}}), genKey(t))
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("not a jwe", func(t *testing.T) {
		_, err := normalize(t, formRequest(url.Values{"response": {"garbage"}}), key)
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("too large", func(t *testing.T) {
		jwe, err := mockwallet.EncryptResponse([]byte(`{"vp_token":"x"}`), &key.PublicKey, jose.A128GCM)
		require.NoError(t, err)
		_, err = normalize(t, formRequest(url.Values{"response": {jwe}}), key, WithMaxEncryptedSize(16))
		assert.ErrorIs(t, err, ErrResponseTooLarge)
	})
}

func TestNormalizePlainVPToken(t *testing.T) {
	vp := presentation(t)

	t.Run("form", func(t *testing.T) {
		res, err := normalize(t, formRequest(url.Values{"vp_token": {vp}, "state": {"s1"}}), nil)
		require.NoError(t, err)
		assert.Equal(t, vp, res.VPToken)
		assert.Equal(t, StrategyVPToken, res.Strategy)
		assert.False(t, res.Encrypted)
		assert.Equal(t, "s1", res.State)
	})

	t.Run("json body with dcql map", func(t *testing.T) {
		body := `{"vp_token":{"pid-sd-jwt":["` + vp + `"]},"state":"s1"}`
		r := httptest.NewRequest(http.MethodPost, "/callback/s1", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json; charset=utf-8")

		res, err := normalize(t, r, nil)
		require.NoError(t, err)
		assert.Equal(t, vp, res.VPToken)
		assert.Equal(t, InterpretDCQLMap, res.Interpretation)
	})

	t.Run("compact jwe in vp_token", func(t *testing.T) {
		key := genKey(t)
		jwe, err := mockwallet.EncryptResponse([]byte(vp), &key.PublicKey, jose.A128GCM)
		require.NoError(t, err)

		res, err := normalize(t, formRequest(url.Values{"vp_token": {jwe}}), key)
		require.NoError(t, err)
		assert.Equal(t, vp, res.VPToken)
		assert.True(t, res.Encrypted)
	})

	t.Run("too large", func(t *testing.T) {
		_, err := normalize(t, formRequest(url.Values{"vp_token": {vp}}), nil, WithMaxVPTokenSize(10))
		assert.ErrorIs(t, err, ErrResponseTooLarge)
	})

	t.Run("empty dcql map", func(t *testing.T) {
		_, err := normalize(t, formRequest(url.Values{"vp_token": {`{}`}}), nil)
		assert.ErrorIs(t, err, ErrMissingVPToken)
	})
}

func TestNormalizePriority(t *testing.T) {
	key := genKey(t)
	vp := presentation(t)

	jwe, err := mockwallet.EncryptResponse(mustJSON(t, map[string]string{"vp_token": vp}), &key.PublicKey, jose.A128GCM)
	require.NoError(t, err)

	res, err := normalize(t, formRequest(url.Values{"response": {jwe}, "vp_token": {"ignored"}}), key)
	require.NoError(t, err)
	assert.Equal(t, StrategyEncryptedResponse, res.Strategy)
	assert.Equal(t, vp, res.VPToken)
}

func TestNormalizeRawJWTBody(t *testing.T) {
	vp := presentation(t)

	for _, ct := range []string{"application/jwt", "application/dc+sd-jwt", "application/oauth-authz-resp+jwt"} {
		r := httptest.NewRequest(http.MethodPost, "/callback/s1", strings.NewReader(vp+"\n"))
		r.Header.Set("Content-Type", ct)

		res, err := normalize(t, r, nil)
		require.NoError(t, err, ct)
		assert.Equal(t, vp, res.VPToken)
		assert.Equal(t, StrategyRawJWTBody, res.Strategy)
	}
}

func TestNormalizeMissing(t *testing.T) {
	_, err := normalize(t, formRequest(url.Values{"state": {"s1"}}), nil)
	assert.ErrorIs(t, err, ErrMissingVPToken)

	r := httptest.NewRequest(http.MethodPost, "/callback/s1", strings.NewReader("hello"))
	r.Header.Set("Content-Type", "text/plain")
	_, err = normalize(t, r, nil)
	assert.ErrorIs(t, err, ErrMissingVPToken)
}

func TestReadSubmission(t *testing.T) {
	r := formRequest(url.Values{"vp_token": {strings.Repeat("a", 100)}})
	_, err := ReadSubmission(r, 50)
	assert.ErrorIs(t, err, ErrResponseTooLarge)

	r = httptest.NewRequest(http.MethodPost, "/callback/s1", strings.NewReader("{not json"))
	r.Header.Set("Content-Type", "application/json")
	_, err = ReadSubmission(r, 1024)
	assert.ErrorIs(t, err, ErrMissingVPToken)
}
