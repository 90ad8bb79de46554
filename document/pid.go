package document

import (
	"errors"
	"regexp"
	"strings"
)

var birthDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// PidClaims is the identity claim set delivered to the relying party.
type PidClaims struct {
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	BirthDate     string `json:"birth_date"`
	StreetAddress string `json:"street_address,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Locality      string `json:"locality,omitempty"`
}

// Validate checks the required fields. birth_date is matched by pattern
// only, so 1990-13-40 is accepted.
func (p PidClaims) Validate() error {
	if strings.TrimSpace(p.GivenName) == "" {
		return errors.New("given_name is required")
	}
	if strings.TrimSpace(p.FamilyName) == "" {
		return errors.New("family_name is required")
	}
	if strings.TrimSpace(p.BirthDate) == "" {
		return errors.New("birth_date is required")
	}
	if !birthDatePattern.MatchString(p.BirthDate) {
		return errors.New("birth_date must be in YYYY-MM-DD format")
	}
	return nil
}
