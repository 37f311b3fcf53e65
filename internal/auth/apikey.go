package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const headerName = "X-API-Key"

// HashStore returns the stored bcrypt hash of the API key, or "" if none is set.
type HashStore interface {
	APIKeyHash(ctx context.Context) (string, error)
}

// Authenticator accepts the configured static key or any key matching the
// stored bcrypt hash. With neither configured, every request is allowed.
type Authenticator struct {
	staticKey string
	hashes    HashStore
}

func NewAuthenticator(staticKey string, hashes HashStore) *Authenticator {
	return &Authenticator{staticKey: staticKey, hashes: hashes}
}

// Check reports whether the key is accepted and whether authentication is
// enabled at all.
func (a *Authenticator) Check(ctx context.Context, provided string) (ok, enabled bool, err error) {
	hash := ""
	if a.hashes != nil {
		hash, err = a.hashes.APIKeyHash(ctx)
		if err != nil {
			return false, true, err
		}
	}
	if a.staticKey == "" && hash == "" {
		return true, false, nil
	}
	if provided == "" {
		return false, true, nil
	}

	if a.staticKey != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(a.staticKey)) == 1 {
		return true, true, nil
	}
	if hash != "" && bcrypt.CompareHashAndPassword([]byte(hash), []byte(provided)) == nil {
		return true, true, nil
	}
	return false, true, nil
}

// HashKey returns the bcrypt hash to store for key.
func HashKey(key string) (string, error) {
	if len(key) < 16 {
		return "", fmt.Errorf("api key must be at least 16 characters")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(h), nil
}

// APIKeyMiddleware validates the API key from the X-API-Key header.
func APIKeyMiddleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(headerName)
		ok, enabled, err := a.Check(c.Request.Context(), provided)
		if err != nil {
			slog.Error("load api key hash", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "authentication unavailable",
			})
			return
		}
		if ok {
			c.Next()
			return
		}

		if enabled && provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "invalid API key",
		})
	}
}
