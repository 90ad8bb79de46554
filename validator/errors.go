package validator

import (
	"errors"
	"fmt"
)

const (
	LayerStructure = iota + 1
	LayerSessionBinding
	LayerCredentialAssurance
	LayerHolderBinding
	LayerWalletIntegrity
	LayerSelectiveDisclosure
	LayerBusinessRules
)

// GenericFailure is reported to clients for faults that are not a layer
// failure.
const GenericFailure = "VP token validation failed"

// Error is a failed validation layer.
type Error struct {
	Layer   int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[Layer %d] %s", e.Layer, e.Message)
}

func fail(layer int, format string, args ...interface{}) *Error {
	return &Error{Layer: layer, Message: fmt.Sprintf(format, args...)}
}

// PublicMessage is the message safe to return to a caller for err.
func PublicMessage(err error) string {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return GenericFailure
}

// FailedLayer returns the layer of err, or 0 when err is not a layer failure.
func FailedLayer(err error) int {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Layer
	}
	return 0
}
