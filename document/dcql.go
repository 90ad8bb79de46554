package document

import (
	"fmt"
	"strings"
)

//  https://openid.net/specs/openid-4-verifiable-presentations-1_0.html#name-digital-credentials-query-l

type DCQLQuery struct {
	Credentials    []CredentialQuery    `json:"credentials"`
	CredentialSets []CredentialSetQuery `json:"credential_sets,omitempty"`
}

type CredentialQuery struct {
	ID        string           `json:"id"`
	Format    string           `json:"format"`
	Meta      *MetaConstraints `json:"meta,omitempty"`
	Claims    []ClaimQuery     `json:"claims,omitempty"`
	ClaimSets [][]string       `json:"claim_sets,omitempty"`
}

type MetaConstraints struct {
	// For sd-jwt
	VCTValues []string `json:"vct_values,omitempty"`

	// For mdoc
	DocType string `json:"doctype_value,omitempty"`
}

type ClaimQuery struct {
	ID     string           `json:"id,omitempty"`
	Path   ClaimPathPointer `json:"path"`
	Values []interface{}    `json:"values,omitempty"`
}

type CredentialSetQuery struct {
	Options  [][]string  `json:"options"`
	Required *bool       `json:"required,omitempty"`
	Purpose  interface{} `json:"purpose,omitempty"`
}

// ClaimPathPointer addresses a claim inside a credential. Elements are
// strings (object keys), non-negative integers (array indices) or nil
// (all array elements).
type ClaimPathPointer []interface{}

func (cpp ClaimPathPointer) String() string {
	parts := make([]string, 0, len(cpp))
	for _, p := range cpp {
		switch v := p.(type) {
		case nil:
			parts = append(parts, "*")
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, ".")
}

// CredentialIDs returns the ids of all credential queries in order.
func (q DCQLQuery) CredentialIDs() []string {
	ids := make([]string, 0, len(q.Credentials))
	for _, c := range q.Credentials {
		ids = append(ids, c.ID)
	}
	return ids
}

func path(elems ...interface{}) ClaimPathPointer {
	return ClaimPathPointer(elems)
}

func ptr[T any](v T) *T {
	return &v
}

// PIDQuery builds the DCQL query for a German EUDI PID. The SD-JWT VC
// credential is always requested; includeMdoc adds the ISO mdoc form as an
// alternative so a wallet may answer with either.
func PIDQuery(includeMdoc bool) DCQLQuery {
	query := DCQLQuery{
		Credentials: []CredentialQuery{
			{
				ID:     PIDSDJWTCredentialID,
				Format: FormatSDJWT,
				Meta:   &MetaConstraints{VCTValues: []string{PIDVCT}},
				Claims: []ClaimQuery{
					{Path: path(ClaimGivenName)},
					{Path: path(ClaimFamilyName)},
					{Path: path(ClaimBirthdate)},
					{Path: path(ClaimAddress, ClaimStreetAddress)},
					{Path: path(ClaimAddress, ClaimPostalCode)},
					{Path: path(ClaimAddress, ClaimLocality)},
				},
			},
		},
	}
	options := [][]string{{PIDSDJWTCredentialID}}

	if includeMdoc {
		ns := string(EUDIPID1)
		query.Credentials = append(query.Credentials, CredentialQuery{
			ID:     PIDMdocCredentialID,
			Format: FormatMdoc,
			Meta:   &MetaConstraints{DocType: string(EudiPid)},
			Claims: []ClaimQuery{
				{Path: path(ns, EudiGivenName)},
				{Path: path(ns, EudiFamilyName)},
				{Path: path(ns, EudiBirthDate)},
				{Path: path(ns, EudiResidentStreet)},
				{Path: path(ns, EudiResidentPostalCode)},
				{Path: path(ns, EudiResidentCity)},
			},
		})
		options = append(options, []string{PIDMdocCredentialID})
	}

	query.CredentialSets = []CredentialSetQuery{
		{Options: options, Required: ptr(true)},
	}
	return query
}
