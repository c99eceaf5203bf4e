package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type UserRole string

const (
	RolePatient       UserRole = "PATIENT"
	RolePharmacyOwner UserRole = "PHARMACY_OWNER"
	RolePharmacyStaff UserRole = "PHARMACY_STAFF"
	RoleCourier       UserRole = "COURIER"
)

type Claims struct {
	UserID      string   `json:"userId"`
	SessionID   string   `json:"sessionId"`
	Role        UserRole `json:"role"`
	Email       string   `json:"email"`
	ProviderID  *string  `json:"providerId,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Name        *string  `json:"name,omitempty"`
	jwt.RegisteredClaims
}

var (
	ErrTokenRequired = errors.New("token required")
	ErrTokenInvalid  = errors.New("token invalid")
)

// ParseBearerToken returns the token of an "Authorization: Bearer <token>"
// header, or "" for any other scheme.
func ParseBearerToken(authHeader string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// VerifyAccessToken accepts only HS256 tokens that carry an expiry.
func VerifyAccessToken(tokenString string, secret string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenRequired
	}
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5*time.Second),
	)
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

// IssueAccessToken signs claims with HS256. Tokens are normally minted by the
// identity service; this is used by tooling and tests.
func IssueAccessToken(claims Claims, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if claims.Subject == "" {
		claims.Subject = claims.UserID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
