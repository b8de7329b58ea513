package client

import (
	"context"
	"fmt"
	"time"
)

// TokenProvider supplies the bearer token attached to every request attempt.
// It is called once per attempt and must be safe for repeated use.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenProviderFunc adapts a function to TokenProvider.
type TokenProviderFunc func(ctx context.Context) (string, error)

// Token implements TokenProvider.
func (f TokenProviderFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken is a TokenProvider returning a fixed token.
type StaticToken string

// Token implements TokenProvider. An empty token is unauthenticated.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: no access token configured", ErrUnauthenticated)
	}
	return string(s), nil
}

// SessionSource returns the access token of the current session, or "" when
// no session has materialized yet.
type SessionSource func(ctx context.Context) (string, error)

// SessionTokenProvider waits a bounded time for a session to appear before
// declaring the caller unauthenticated. Sessions restored asynchronously at
// startup are usually available after a few polls.
type SessionTokenProvider struct {
	Source      SessionSource
	MaxAttempts int
	Interval    time.Duration
}

// NewSessionTokenProvider creates a provider polling source up to 5 times, 100ms apart.
func NewSessionTokenProvider(source SessionSource) *SessionTokenProvider {
	return &SessionTokenProvider{
		Source:      source,
		MaxAttempts: 5,
		Interval:    100 * time.Millisecond,
	}
}

// Token implements TokenProvider.
func (p *SessionTokenProvider) Token(ctx context.Context) (string, error) {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		token, err := p.Source(ctx)
		if err == nil && token != "" {
			return token, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if err := sleepContext(ctx, p.Interval); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: session lookup failed after %d attempts: %v", ErrUnauthenticated, attempts, lastErr)
	}
	return "", fmt.Errorf("%w: no session access token after %d attempts", ErrUnauthenticated, attempts)
}
