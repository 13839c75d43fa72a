package auth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// TokenAuthenticator validates bearer tokens against a bcrypt hash.
type TokenAuthenticator struct {
	hash      []byte
	projectID string
	cache     *TokenCache
	logger    *zap.Logger
}

// NewTokenAuthenticator checks that hash is a bcrypt hash and returns an
// authenticator for it.
func NewTokenAuthenticator(hash, projectID string, cacheTTL time.Duration, logger *zap.Logger) (*TokenAuthenticator, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("NewTokenAuthenticator: %w", err)
	}
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}
	return &TokenAuthenticator{
		hash:      []byte(hash),
		projectID: projectID,
		cache:     NewTokenCache(cacheTTL),
		logger:    logger,
	}, nil
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	if !a.cache.Valid(token) {
		if err := bcrypt.CompareHashAndPassword(a.hash, []byte(token)); err != nil {
			a.logger.Debug("token rejected", zap.Error(err))
			return nil, ErrUnauthenticated
		}
		a.cache.Remember(token)
	}
	return &Principal{Subject: "token", ProjectID: a.projectID}, nil
}

// HashToken returns the bcrypt hash to configure as serve.token_hash.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("HashToken: %w", err)
	}
	return string(h), nil
}
