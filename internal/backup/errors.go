package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrMissing is matched by decode failures caused by an absent or empty token.
	ErrMissing = errors.New("backup data missing")
	// ErrMalformed is matched when the token is not valid base64 or not valid JSON.
	ErrMalformed = errors.New("backup data malformed")
	// ErrInvalidShape is matched when the JSON lacks required fields or has wrong types.
	ErrInvalidShape = errors.New("backup data has invalid shape")
	// ErrUnknownTool is matched when the record names a calculator the registry does not know.
	ErrUnknownTool = errors.New("backup references unknown calculator")

	// ErrEmptyToolID is wrapped by EncodingError when a record has no tool id.
	ErrEmptyToolID = errors.New("tool id is required")
	// ErrNonCanonicalInput is wrapped by EncodingError when an input value is not in
	// decoded JSON form, such as a float64 instead of a json.Number.
	ErrNonCanonicalInput = errors.New("input is not a JSON value")
)

// Kind classifies a DecodeError.
type Kind int

const (
	KindMissing Kind = iota + 1
	KindMalformed
	KindInvalidShape
	KindUnknownTool
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindMalformed:
		return "malformed"
	case KindInvalidShape:
		return "invalid_shape"
	case KindUnknownTool:
		return "unknown_tool"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindMissing:
		return ErrMissing
	case KindMalformed:
		return ErrMalformed
	case KindInvalidShape:
		return ErrInvalidShape
	case KindUnknownTool:
		return ErrUnknownTool
	default:
		return errors.New("backup decode failed")
	}
}

// DecodeError reports why a token or backup file could not be restored.
// errors.Is(err, ErrMalformed) and friends match on Kind.
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
}

// Is reports whether target is the sentinel for e.Kind.
func (e *DecodeError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// KindOf extracts the decode kind from err.
func KindOf(err error) (Kind, bool) {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return decodeErr.Kind, true
	}
	return 0, false
}

// EncodingError is returned when a record cannot be serialised.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("backup: encode record: %v", e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

func decodeError(kind Kind, err error) error {
	return &DecodeError{Kind: kind, Err: err}
}
