package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// streamTokenTTL keeps media URLs usable long enough for a browser to open
// an <img> tag but not worth sharing.
const streamTokenTTL = 5 * time.Minute

// StreamClaims scope a token to one camera's media endpoints.
type StreamClaims struct {
	CameraID string `json:"camera_id"`
	jwt.RegisteredClaims
}

// StreamTokens signs short-lived per-camera tokens for /stream and /frame
// URLs, where setting an Authorization header is not possible.
type StreamTokens struct {
	secretKey []byte
}

func NewStreamTokens() *StreamTokens {
	secret := make([]byte, 32)
	rand.Read(secret)
	return &StreamTokens{secretKey: []byte(hex.EncodeToString(secret))}
}

// Issue signs a token granting access to one camera's media.
func (s *StreamTokens) Issue(cameraID string) (string, time.Time, error) {
	expiresAt := time.Now().Add(streamTokenTTL)
	claims := &StreamClaims{
		CameraID: cameraID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "physical-mcp",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate checks a stream token and that it covers the requested camera.
func (s *StreamTokens) Validate(tokenString, cameraID string) error {
	token, err := jwt.ParseWithClaims(tokenString, &StreamClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	claims, ok := token.Claims.(*StreamClaims)
	if !ok || !token.Valid {
		return ErrInvalidToken
	}
	if claims.CameraID != "" && claims.CameraID != cameraID {
		return ErrInvalidToken
	}
	return nil
}
