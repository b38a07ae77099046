package utils

import (
	"errors"
	"time"

	"github.com/chachabrian/bikeshare-backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the API trusts about the caller.
type Claims struct {
	UserID    uint
	Role      models.UserRole
	PartnerID *uint
}

func GenerateToken(secret string, user *models.User, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	claims := jwt.MapClaims{
		"id":    user.ID,
		"email": user.Email,
		"role":  string(user.Role),
		"exp":   time.Now().Add(ttl).Unix(),
	}
	if user.PartnerID != nil {
		claims["partnerId"] = *user.PartnerID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	id, ok := mc["id"].(float64)
	if !ok || id <= 0 {
		return nil, errors.New("token has no user id")
	}
	role, _ := mc["role"].(string)
	if !models.UserRole(role).Valid() {
		return nil, errors.New("token has no valid role")
	}

	claims := &Claims{UserID: uint(id), Role: models.UserRole(role)}
	if pid, ok := mc["partnerId"].(float64); ok && pid > 0 {
		partnerID := uint(pid)
		claims.PartnerID = &partnerID
	}
	return claims, nil
}
