package jwtutil

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"agency-service/pkg/config"
)

// SessionClaims represents the JWT claims for an authenticated session.
// Agency fields are only present once the caller has an agency context.
type SessionClaims struct {
	UserName   string `json:"user_name"`
	UserID     uint   `json:"user_id"`
	AgencyID   *uint  `json:"agency_id,omitempty"`
	AgencyName string `json:"agency_name,omitempty"`
	Role       string `json:"role,omitempty"` // caller's role within the agency
	jwt.RegisteredClaims
}

// JWTUtil is a utility for JWT token operations
type JWTUtil struct {
	config *config.JWTConfig
}

// New creates a new JWT utility with the given configuration
func New(cfg *config.JWTConfig) *JWTUtil {
	return &JWTUtil{config: cfg}
}

// GenerateToken creates a session token without agency context
func (j *JWTUtil) GenerateToken(userName string, userID uint) (string, error) {
	return j.GenerateTokenWithAgency(userName, userID, nil, "", "")
}

// GenerateTokenWithAgency creates a session token carrying agency context
func (j *JWTUtil) GenerateTokenWithAgency(userName string, userID uint, agencyID *uint, agencyName string, role string) (string, error) {
	if j.config == nil {
		return "", errors.New("JWT configuration not provided")
	}

	claims := SessionClaims{
		UserName:   userName,
		UserID:     userID,
		AgencyID:   agencyID,
		AgencyName: agencyName,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(j.config.ExpirationHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.config.SigningKey))
}

// ValidateToken validates and parses the JWT token
func (j *JWTUtil) ValidateToken(tokenString string) (*SessionClaims, error) {
	if j.config == nil {
		return nil, errors.New("JWT configuration not provided")
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&SessionClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(j.config.SigningKey), nil
		},
	)

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
