package provider

import "fmt"

// Tokens used by the parameter service for boolean enumerations
const (
	TokenTrue  = "true"
	TokenFalse = "false"
)

// EncodeBool maps a boolean to its parameter token
func EncodeBool(b bool) string {
	if b {
		return TokenTrue
	}
	return TokenFalse
}

// DecodeBool maps a parameter token to a boolean.
// Only the exact tokens are accepted; anything else is ErrInvalidToken.
func DecodeBool(token string) (bool, error) {
	switch token {
	case TokenTrue:
		return true, nil
	case TokenFalse:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
}
