package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestPIDQuery(t *testing.T) {
	query := PIDQuery(false)

	require.Len(t, query.Credentials, 1)
	cred := query.Credentials[0]
	assert.Equal(t, "pid-sd-jwt", cred.ID)
	assert.Equal(t, "dc+sd-jwt", cred.Format)
	assert.Equal(t, []string{"urn:eudi:pid:de:1"}, cred.Meta.VCTValues)

	paths := make([]string, 0, len(cred.Claims))
	for _, c := range cred.Claims {
		paths = append(paths, c.Path.String())
	}
	assert.Equal(t, []string{
		"given_name", "family_name", "birthdate",
		"address.street_address", "address.postal_code", "address.locality",
	}, paths)

	require.Len(t, query.CredentialSets, 1)
	assert.Equal(t, [][]string{{"pid-sd-jwt"}}, query.CredentialSets[0].Options)
	assert.True(t, *query.CredentialSets[0].Required)
}

func TestPIDQueryWithMdoc(t *testing.T) {
	query := PIDQuery(true)

	assert.Equal(t, []string{"pid-sd-jwt", "pid-mdoc"}, query.CredentialIDs())
	assert.Equal(t, [][]string{{"pid-sd-jwt"}, {"pid-mdoc"}}, query.CredentialSets[0].Options)

	b, err := json.Marshal(query)
	require.NoError(t, err)
	assert.Equal(t, "eu.europa.ec.eudi.pid.1", gjson.GetBytes(b, "credentials.1.meta.doctype_value").String())
	assert.Equal(t, "birth_date", gjson.GetBytes(b, "credentials.1.claims.2.path.1").String())
	assert.False(t, gjson.GetBytes(b, "credentials.0.meta.doctype_value").Exists())
}

func TestClaimPathPointerString(t *testing.T) {
	assert.Equal(t, "nationalities.*", ClaimPathPointer{"nationalities", nil}.String())
	assert.Equal(t, "a.0.b", ClaimPathPointer{"a", 0, "b"}.String())
}

func TestPidClaimsValidate(t *testing.T) {
	valid := PidClaims{GivenName: "Erika", FamilyName: "Mustermann", BirthDate: "1964-08-12"}

	tests := []struct {
		name    string
		mutate  func(p *PidClaims)
		wantErr string
	}{
		{name: "valid"},
		{name: "calendar invalid date passes pattern", mutate: func(p *PidClaims) { p.BirthDate = "1990-13-40" }},
		{name: "blank given name", mutate: func(p *PidClaims) { p.GivenName = "  " }, wantErr: "given_name is required"},
		{name: "missing family name", mutate: func(p *PidClaims) { p.FamilyName = "" }, wantErr: "family_name is required"},
		{name: "missing birth date", mutate: func(p *PidClaims) { p.BirthDate = "" }, wantErr: "birth_date is required"},
		{name: "wrong date format", mutate: func(p *PidClaims) { p.BirthDate = "12.08.1964" }, wantErr: "YYYY-MM-DD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			if tt.mutate != nil {
				tt.mutate(&p)
			}
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
