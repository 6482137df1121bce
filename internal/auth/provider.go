// Package auth supplies bearer tokens for authenticating the session
// connection
package auth

import (
	"context"
	"errors"
)

type (
	// TokenProvider yields a currently-valid bearer token, refreshing it when
	// needed. An empty token with a nil error is treated as unavailable
	TokenProvider interface {
		GetValidToken(ctx context.Context) (string, error)
	}

	// TokenFunc adapts a function to the TokenProvider interface
	TokenFunc func(ctx context.Context) (string, error)

	// StaticToken always yields the same token
	StaticToken string
)

var ErrNoToken = errors.New("no access token available")

// GetValidToken calls the underlying function
func (f TokenFunc) GetValidToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// GetValidToken returns the token, or ErrNoToken if it is empty
func (s StaticToken) GetValidToken(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}
