package sdjwt

// Token is a split and decoded SD-JWT presentation.
type Token struct {
	Raw       string
	IssuerJWT *JWT

	// Disclosures holds every well formed disclosure in presentation order.
	// Malformed segments are dropped.
	Disclosures []Disclosure
	// DisclosureSegments counts the non-empty segments between the issuer
	// JWT and the key binding JWT, malformed ones included.
	DisclosureSegments int

	// KeyBindingRaw is the final `~` segment, empty when the holder did not
	// bind the presentation. KeyBinding is set when it decodes as a JWT.
	KeyBindingRaw string
	KeyBinding    *JWT
}

// JWT is a compact JWS decoded without signature verification.
type JWT struct {
	Raw     string
	Header  map[string]interface{}
	Payload map[string]interface{}
}

type Disclosure struct {
	Raw    string
	Salt   string
	Name   string // empty for array element disclosures
	Value  interface{}
	Digest string

	IsArrayEntry bool
}
