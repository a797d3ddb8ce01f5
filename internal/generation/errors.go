package generation

import "errors"

// Common errors returned by the generation package
var (
	// ErrInvalidResponse is returned when the model response cannot be parsed
	// or does not match the expected shape
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the model blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrUnsupportedKind is returned when no output shape exists for a result kind
	ErrUnsupportedKind = errors.New("unsupported result kind")
)
