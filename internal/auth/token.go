package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds. A session token authenticates API calls; a custom token is
// pre-issued out of band and can only be exchanged for a session token.
const (
	KindSession = "session"
	KindCustom  = "custom"
)

// ErrWrongKind is returned when a token of one kind is presented where the
// other is expected.
var ErrWrongKind = errors.New("wrong token kind")

// AppClaims defines the custom claims we want to include in our JWT.
// We embed jwt.RegisteredClaims to include standard claims like 'ExpiresAt'.
type AppClaims struct {
	UserID    string `json:"userID"`
	Kind      string `json:"kind"`
	Anonymous bool   `json:"anonymous,omitempty"`
	jwt.RegisteredClaims
}

// GenerateJWT creates a new signed JWT string for the given claims, valid
// for ttl from now.
func GenerateJWT(claims AppClaims, secret string, now time.Time, ttl time.Duration) (string, error) {
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	claims.Subject = claims.UserID

	// HS256 signature ensures that the token cannot be tampered with by the client.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	return token.SignedString([]byte(secret))
}

// ValidateJWT parses and validates a JWT string of the expected kind.
// It checks the signature and standard claims like the expiration time.
func ValidateJWT(tokenString, secret, kind string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Security check: ensure the token's signing method is what we expect.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		// Malformed token, invalid signature, or expired (jwt.ErrTokenExpired).
		return nil, err
	}

	claims, ok := token.Claims.(*AppClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token")
	}
	if claims.Kind != kind {
		return nil, ErrWrongKind
	}
	return claims, nil
}
