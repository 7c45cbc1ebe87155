// ABOUTME: JWT verification for authenticating inbound agent requests
// ABOUTME: Uses HS256 signing with configurable secret; claims carry org and policy

package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/fanout-gateway/internal/store"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Verifier validates inbound bearer tokens and produces the request Identity.
type Verifier interface {
	Verify(tokenString string) (*Identity, error)
}

// JWTVerifier implements Verifier using HS256 signed JWTs.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and builds an Identity from its claims.
// Required claims: sub (user id), org. Optional: masking_mode,
// pii_categories, toon_conversion.
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	org, ok := claims["org"].(string)
	if !ok || org == "" {
		return nil, fmt.Errorf("%w: org", ErrMissingClaim)
	}

	id := &Identity{
		AuthMethod:     "jwt",
		UserID:         sub,
		OrganizationID: org,
		MaskingMode:    store.MaskingDisabled,
	}

	if mode, ok := claims["masking_mode"].(string); ok && mode != "" {
		id.MaskingMode = store.MaskingMode(mode)
	}
	if raw, ok := claims["pii_categories"].([]any); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				id.PIICategories = append(id.PIICategories, s)
			}
		}
	}
	if toon, ok := claims["toon_conversion"].(bool); ok {
		id.ToonConversion = toon
	}

	return id, nil
}

// Generate creates a signed token for the given identity with expiration.
// Used by the admin CLI to mint agent credentials.
func (v *JWTVerifier) Generate(id *Identity, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": id.UserID,
		"org": id.OrganizationID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if id.MaskingMode != "" {
		claims["masking_mode"] = string(id.MaskingMode)
	}
	if len(id.PIICategories) > 0 {
		cats := make([]any, len(id.PIICategories))
		for i, c := range id.PIICategories {
			cats[i] = c
		}
		claims["pii_categories"] = cats
	}
	if id.ToonConversion {
		claims["toon_conversion"] = true
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
