package document

type (
	DocType   string
	NameSpace string
)

const (
	FormatSDJWT = "dc+sd-jwt"
	FormatMdoc  = "mso_mdoc"

	PIDSDJWTCredentialID = "pid-sd-jwt"
	PIDMdocCredentialID  = "pid-mdoc"

	// PIDVCT is the verifiable credential type of the German PID.
	PIDVCT = "urn:eudi:pid:de:1"
)

var (
	EudiPid  DocType   = "eu.europa.ec.eudi.pid.1"
	EUDIPID1 NameSpace = "eu.europa.ec.eudi.pid.1"
)

// SD-JWT VC PID claim names.
const (
	ClaimGivenName     = "given_name"
	ClaimFamilyName    = "family_name"
	ClaimBirthdate     = "birthdate"
	ClaimBirthDate     = "birth_date"
	ClaimAddress       = "address"
	ClaimStreetAddress = "street_address"
	ClaimPostalCode    = "postal_code"
	ClaimLocality      = "locality"
)

// mdoc data elements in the eu.europa.ec.eudi.pid.1 namespace.
const (
	EudiFamilyName         = "family_name"
	EudiGivenName          = "given_name"
	EudiBirthDate          = "birth_date"
	EudiResidentCity       = "resident_city"
	EudiResidentPostalCode = "resident_postal_code"
	EudiResidentStreet     = "resident_street"
)
