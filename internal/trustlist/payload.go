package trustlist

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
	"github.com/samber/lo"

	"github.com/kokukuma/eudiw-verifier/pkg/hash"
)

// ListPayload is the decoded body of a trust list JWT. Lists carry either
// flat entries/keys with certificate thumbprints or an ETSI LoTE
// TrustedEntitiesList with the certificates themselves.
type ListPayload struct {
	Entries             []ListEntry     `mapstructure:"entries"`
	Keys                []ListEntry     `mapstructure:"keys"`
	TrustedEntitiesList []TrustedEntity `mapstructure:"TrustedEntitiesList"`
}

type ListEntry struct {
	X5tS256 string   `mapstructure:"x5t#S256"`
	X5C     []string `mapstructure:"x5c"`
}

type TrustedEntity struct {
	TrustedEntityServices []TrustedEntityService `mapstructure:"TrustedEntityServices"`
}

type TrustedEntityService struct {
	ServiceInformation struct {
		ServiceTypeIdentifier  string `mapstructure:"ServiceTypeIdentifier"`
		ServiceDigitalIdentity struct {
			X509Certificates []struct {
				Val string `mapstructure:"val"`
			} `mapstructure:"X509Certificates"`
		} `mapstructure:"ServiceDigitalIdentity"`
	} `mapstructure:"ServiceInformation"`
}

// DecodeList decodes a trust list JWT without checking its signature.
func DecodeList(raw string) (*ListPayload, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(raw), claims); err != nil {
		return nil, fmt.Errorf("failed to decode trust list jwt: %w", err)
	}

	var payload ListPayload
	if err := mapstructure.Decode(map[string]interface{}(claims), &payload); err != nil {
		return nil, fmt.Errorf("failed to decode trust list payload: %w", err)
	}
	return &payload, nil
}

// Thumbprints returns the distinct certificate thumbprints of the list.
func (p *ListPayload) Thumbprints() []string {
	var tps []string

	for _, e := range append(p.Entries, p.Keys...) {
		switch {
		case e.X5tS256 != "":
			tps = append(tps, e.X5tS256)
		case len(e.X5C) > 0:
			if tp, err := certThumbprint(e.X5C[0]); err == nil {
				tps = append(tps, tp)
			}
		}
	}

	for _, entity := range p.TrustedEntitiesList {
		for _, svc := range entity.TrustedEntityServices {
			for _, cert := range svc.ServiceInformation.ServiceDigitalIdentity.X509Certificates {
				if tp, err := certThumbprint(cert.Val); err == nil {
					tps = append(tps, tp)
				}
			}
		}
	}
	return lo.Uniq(tps)
}

func certThumbprint(b64 string) (string, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", err
	}
	return hash.Thumbprint(der), nil
}
