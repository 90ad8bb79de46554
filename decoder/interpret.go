package decoder

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kokukuma/eudiw-verifier/sdjwt"
)

// Interpretations of a decrypted response, in the order they are tried.
const (
	InterpretJSONVPToken = "json_vp_token"
	InterpretDCQLMap     = "dcql_map"
	InterpretJARM        = "jarm"
	InterpretJSONJWS     = "json_jws"
	InterpretBare        = "bare_presentation"
)

type interpreter struct {
	name string
	fn   func(data []byte) (token, state string, ok bool)
}

var interpreters = []interpreter{
	{InterpretJSONVPToken, interpretJSONVPToken},
	{InterpretDCQLMap, interpretDCQLMap},
	{InterpretJARM, interpretJARM},
	{InterpretJSONJWS, interpretJSONJWS},
	{InterpretBare, interpretBare},
}

// interpret runs the interpreters over decrypted bytes and returns the first
// match.
func interpret(data []byte) (token, state, name string, err error) {
	for _, in := range interpreters {
		if token, state, ok := in.fn(data); ok {
			return token, state, in.name, nil
		}
	}
	return "", "", "", fmt.Errorf("%w: %s", ErrUnrecognizedPayload, describeShape(data))
}

// describeShape names what the decrypted bytes looked like for the failure
// message. Claim values are never included.
func describeShape(data []byte) string {
	switch {
	case !gjson.ValidBytes(data):
		return "not json and not an sd-jwt presentation"
	case gjson.ParseBytes(data).IsObject():
		if gjson.GetBytes(data, "vp_token").Exists() {
			return "json object with unusable vp_token"
		}
		return "json object without vp_token"
	case gjson.ParseBytes(data).IsArray():
		return "json array"
	}
	return "json scalar"
}

func jsonObject(data []byte) (gjson.Result, bool) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, false
	}
	doc := gjson.ParseBytes(data)
	return doc, doc.IsObject()
}

func interpretJSONVPToken(data []byte) (string, string, bool) {
	doc, ok := jsonObject(data)
	if !ok {
		return "", "", false
	}
	vp := doc.Get("vp_token")
	if vp.Type != gjson.String && !vp.IsArray() {
		return "", "", false
	}
	token, ok := vpTokenOf(vp)
	return token, doc.Get("state").String(), ok
}

func interpretDCQLMap(data []byte) (string, string, bool) {
	doc, ok := jsonObject(data)
	if !ok {
		return "", "", false
	}
	vp := doc.Get("vp_token")
	if !vp.IsObject() {
		return "", "", false
	}
	token, ok := vpTokenOf(vp)
	return token, doc.Get("state").String(), ok
}

func interpretJARM(data []byte) (string, string, bool) {
	s := strings.TrimSpace(string(data))
	if !sdjwt.LooksLikeCompactJWT(s) {
		return "", "", false
	}
	if _, err := sdjwt.DecodeJWT(s); err != nil {
		return "", "", false
	}
	// the payload is read again through gjson to keep the key order of a
	// DCQL map
	payload, err := base64.RawURLEncoding.DecodeString(strings.Split(s, ".")[1])
	if err != nil {
		return "", "", false
	}
	doc, ok := jsonObject(payload)
	if !ok {
		return "", "", false
	}
	token, ok := vpTokenOf(doc.Get("vp_token"))
	return token, doc.Get("state").String(), ok
}

func interpretJSONJWS(data []byte) (string, string, bool) {
	doc, ok := jsonObject(data)
	if !ok {
		return "", "", false
	}
	payload := doc.Get("payload")
	if payload.Type != gjson.String {
		return "", "", false
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(payload.String(), "="))
	if err != nil {
		return "", "", false
	}
	inner, ok := jsonObject(decoded)
	if !ok {
		return "", "", false
	}
	token, ok := vpTokenOf(inner.Get("vp_token"))
	return token, inner.Get("state").String(), ok
}

func interpretBare(data []byte) (string, string, bool) {
	s := strings.TrimSpace(string(data))
	if !plausiblePresentation(s) {
		return "", "", false
	}
	return s, "", true
}

// plausiblePresentation reports whether s starts with a compact JWT
// followed by `~`, the shape of an SD-JWT presentation. JSON documents never
// qualify.
func plausiblePresentation(s string) bool {
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") || gjson.Valid(s) {
		return false
	}
	issuer, _, _ := sdjwt.Split(s)
	return strings.Contains(s, "~") && sdjwt.LooksLikeCompactJWT(issuer)
}

// vpTokenOf accepts a vp_token given as a string or as a DCQL map.
func vpTokenOf(vp gjson.Result) (string, bool) {
	switch {
	case vp.Type == gjson.String:
		return vp.String(), vp.String() != ""
	case vp.IsObject():
		return firstCredential(vp)
	case vp.IsArray():
		return firstArrayString(vp)
	}
	return "", false
}

// firstCredential takes the first credential of the first credential id, in
// document order.
func firstCredential(vp gjson.Result) (token string, ok bool) {
	vp.ForEach(func(_, value gjson.Result) bool {
		switch {
		case value.Type == gjson.String:
			token, ok = value.String(), value.String() != ""
		case value.IsArray():
			token, ok = firstArrayString(value)
		}
		return false
	})
	return token, ok
}

func firstArrayString(arr gjson.Result) (string, bool) {
	first := arr.Get("0")
	if first.Type != gjson.String || first.String() == "" {
		return "", false
	}
	return first.String(), true
}
