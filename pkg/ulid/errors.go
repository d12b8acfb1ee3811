package ulid

import "errors"

var (
	// ErrInvalidLength is returned when a string is not exactly 26 characters.
	ErrInvalidLength = errors.New("ulid: invalid encoded length")
	// ErrInvalidCharacter is returned when a string contains a character outside the Crockford base32 alphabet.
	ErrInvalidCharacter = errors.New("ulid: invalid character")
)
