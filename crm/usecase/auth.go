package usecase

import (
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/golang-jwt/jwt/v5"
)

// AdvisorClaims es lo que viaja dentro del JWT de sesión de un asesor.
type AdvisorClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer firma y valida los tokens de sesión (HS256). El secreto viene
// de AUTH_JWT_SECRET; el TTL de AUTH_TOKEN_TTL_HOURS.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

func (t *TokenIssuer) Issue(adv domain.Advisor) (string, time.Time, error) {
	expires := time.Now().Add(t.ttl)
	claims := AdvisorClaims{
		Username: adv.Username,
		Role:     string(adv.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   adv.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func (t *TokenIssuer) Parse(token string) (*AdvisorClaims, error) {
	claims := &AdvisorClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tk *jwt.Token) (interface{}, error) {
		if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, pkgError.AuthError("unexpected signing method")
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, pkgError.AuthError("invalid or expired token")
	}
	return claims, nil
}
