package crypto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// VerifySaveJWT checks the HS256 signature of a save-data token against key
// and returns the save JSON carried by the "data" claim.
func VerifySaveJWT(token string, key []byte) (json.RawMessage, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrSignatureInvalid):
		return nil, ErrBadSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, ErrMalformedJWT
	case err != nil:
		return nil, fmt.Errorf("parsing save token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMalformedJWT
	}
	data, ok := claims["data"]
	if !ok {
		return nil, fmt.Errorf("%w: missing data claim", ErrMalformedJWT)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("re-encoding save payload: %w", err)
	}
	return raw, nil
}
