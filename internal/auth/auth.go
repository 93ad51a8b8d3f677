package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrUnauthorized = errors.New("unauthorized")

// Authenticator guards mutating and media endpoints with a bearer token. The
// token may be configured as plaintext or as a bcrypt hash; when absent, one
// is generated and must be read from the startup log.
type Authenticator struct {
	enabled   bool
	token     string
	tokenHash []byte
	generated string
	streams   *StreamTokens
}

// New builds an authenticator from the configured token. An empty token with
// required=true generates a random one.
func New(token string, required bool) *Authenticator {
	a := &Authenticator{enabled: required || token != "", streams: NewStreamTokens()}
	if !a.enabled {
		return a
	}
	if token == "" {
		raw := make([]byte, 24)
		rand.Read(raw)
		token = hex.EncodeToString(raw)
		a.generated = token
	}
	if len(token) == 60 && token[0] == '$' {
		a.tokenHash = []byte(token)
	} else {
		a.token = token
	}
	return a
}

// Enabled reports whether bearer auth is enforced.
func (a *Authenticator) Enabled() bool { return a.enabled }

// GeneratedToken returns the auto-generated token, empty when one was
// configured explicitly.
func (a *Authenticator) GeneratedToken() string { return a.generated }

// CheckBearer validates an Authorization header value.
func (a *Authenticator) CheckBearer(header string) error {
	if !a.enabled {
		return nil
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ErrUnauthorized
	}
	return a.CheckToken(strings.TrimSpace(token))
}

// CheckToken validates a raw token in constant time.
func (a *Authenticator) CheckToken(token string) error {
	if !a.enabled {
		return nil
	}
	if a.tokenHash != nil {
		if bcrypt.CompareHashAndPassword(a.tokenHash, []byte(token)) != nil {
			return ErrUnauthorized
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// StreamTokens exposes the short-lived token signer for media URLs.
func (a *Authenticator) StreamTokens() *StreamTokens { return a.streams }

// HashToken bcrypt-hashes a token for storage in config files.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
