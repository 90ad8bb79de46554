package logfields

import (
	"time"

	"go.uber.org/zap"
)

// Log Fields.
const (
	FieldClientID   = "clientID"
	FieldCount      = "count"
	FieldDuration   = "duration"
	FieldLayer      = "layer"
	FieldList       = "list"
	FieldMethod     = "method"
	FieldMode       = "responseMode"
	FieldPath       = "path"
	FieldSessionID  = "sessionID"
	FieldStatus     = "status"
	FieldStrategy   = "strategy"
	FieldThumbprint = "thumbprint"
	FieldURL        = "url"
)

// WithClientID sets the ClientID field.
func WithClientID(value string) zap.Field {
	return zap.String(FieldClientID, value)
}

// WithCount sets the Count field.
func WithCount(value int) zap.Field {
	return zap.Int(FieldCount, value)
}

// WithDuration sets the Duration field.
func WithDuration(value time.Duration) zap.Field {
	return zap.Duration(FieldDuration, value)
}

// WithError sets the error field.
func WithError(err error) zap.Field {
	return zap.Error(err)
}

// WithLayer sets the Layer field.
func WithLayer(value int) zap.Field {
	return zap.Int(FieldLayer, value)
}

// WithList sets the List field.
func WithList(value string) zap.Field {
	return zap.String(FieldList, value)
}

// WithMethod sets the Method field.
func WithMethod(value string) zap.Field {
	return zap.String(FieldMethod, value)
}

// WithMode sets the ResponseMode field.
func WithMode(value string) zap.Field {
	return zap.String(FieldMode, value)
}

// WithPath sets the Path field.
func WithPath(value string) zap.Field {
	return zap.String(FieldPath, value)
}

// WithSessionID sets the SessionID field.
func WithSessionID(value string) zap.Field {
	return zap.String(FieldSessionID, value)
}

// WithStatus sets the Status field.
func WithStatus(value int) zap.Field {
	return zap.Int(FieldStatus, value)
}

// WithStrategy sets the Strategy field.
func WithStrategy(value string) zap.Field {
	return zap.String(FieldStrategy, value)
}

// WithThumbprint sets the Thumbprint field.
func WithThumbprint(value string) zap.Field {
	return zap.String(FieldThumbprint, value)
}

// WithURL sets the URL field.
func WithURL(value string) zap.Field {
	return zap.String(FieldURL, value)
}
