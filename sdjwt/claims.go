package sdjwt

import (
	"fmt"
	"strconv"

	"github.com/kokukuma/eudiw-verifier/document"
)

// Claims merges the disclosures over the issuer payload. `_sd` digests are
// resolved at every depth, then every named disclosure is laid over the top
// level so disclosed values win over same named issuer claims.
func (t *Token) Claims() map[string]interface{} {
	digests := make(map[string]*Disclosure, len(t.Disclosures))
	for i := range t.Disclosures {
		digests[t.Disclosures[i].Digest] = &t.Disclosures[i]
	}

	claims := resolveObject(t.IssuerJWT.Payload, digests)
	for _, d := range t.Disclosures {
		if d.IsArrayEntry {
			continue
		}
		claims[d.Name] = resolveValue(d.Value, digests)
	}
	return claims
}

func resolveObject(obj map[string]interface{}, digests map[string]*Disclosure) map[string]interface{} {
	result := make(map[string]interface{}, len(obj))

	for k, v := range obj {
		if k == "_sd" || k == "_sd_alg" {
			continue
		}
		result[k] = resolveValue(v, digests)
	}

	if sdArr, ok := obj["_sd"].([]interface{}); ok {
		for _, d := range sdArr {
			digest, ok := d.(string)
			if !ok {
				continue
			}
			if disc, found := digests[digest]; found && !disc.IsArrayEntry {
				result[disc.Name] = resolveValue(disc.Value, digests)
			}
		}
	}
	return result
}

func resolveArray(arr []interface{}, digests map[string]*Disclosure) []interface{} {
	result := make([]interface{}, 0, len(arr))
	for _, item := range arr {
		if obj, ok := item.(map[string]interface{}); ok {
			if digest, ok := obj["..."].(string); ok {
				if disc, found := digests[digest]; found && disc.IsArrayEntry {
					result = append(result, resolveValue(disc.Value, digests))
				}
				// undisclosed array elements are dropped
				continue
			}
		}
		result = append(result, resolveValue(item, digests))
	}
	return result
}

func resolveValue(v interface{}, digests map[string]*Disclosure) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return resolveObject(val, digests)
	case []interface{}:
		return resolveArray(val, digests)
	default:
		return v
	}
}

// PIDClaims maps merged claims onto the PID claim set. Missing claims come
// back empty; callers validate them.
func (t *Token) PIDClaims() document.PidClaims {
	claims := t.Claims()

	birthDate := claims[document.ClaimBirthDate]
	if birthDate == nil {
		birthDate = claims[document.ClaimBirthdate]
	}

	pid := document.PidClaims{
		GivenName:  stringify(claims[document.ClaimGivenName]),
		FamilyName: stringify(claims[document.ClaimFamilyName]),
		BirthDate:  stringify(birthDate),
	}

	if address, ok := claims[document.ClaimAddress].(map[string]interface{}); ok {
		pid.StreetAddress = stringify(address[document.ClaimStreetAddress])
		pid.PostalCode = stringify(address[document.ClaimPostalCode])
		pid.Locality = stringify(address[document.ClaimLocality])
	}
	return pid
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
