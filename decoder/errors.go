package decoder

import "errors"

var (
	ErrMissingVPToken      = errors.New("missing or invalid vp_token")
	ErrResponseTooLarge    = errors.New("response exceeds maximum size")
	ErrDecrypt             = errors.New("failed to decrypt response")
	ErrUnrecognizedPayload = errors.New("unrecognized response payload")
)
