// Package auth supplies the bearer credential for the room socket. Sources
// are consulted on every connect and reconnect attempt, so a refreshed
// credential is picked up without restarting the session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrNoCredential = errors.New("no credential available")

// Source yields the current bearer credential.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (string, error)

func (f SourceFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static always returns the same credential.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNoCredential
	}
	return strings.TrimSpace(string(s)), nil
}

// Env reads the credential from an environment variable on every call.
type Env string

func (e Env) Token(context.Context) (string, error) {
	v := strings.TrimSpace(os.Getenv(string(e)))
	if v == "" {
		return "", ErrNoCredential
	}
	return v, nil
}

// File re-reads the credential from disk on every call.
type File string

func (f File) Token(context.Context) (string, error) {
	if f == "" {
		return "", ErrNoCredential
	}
	data, err := os.ReadFile(string(f))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s missing", ErrNoCredential, f)
		}
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", ErrNoCredential
	}
	return v, nil
}

// Chain returns the first credential any source yields. Sources reporting
// ErrNoCredential are skipped; any other error stops the chain.
type Chain []Source

func (c Chain) Token(ctx context.Context) (string, error) {
	for _, s := range c {
		tok, err := s.Token(ctx)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrNoCredential) {
			return "", err
		}
	}
	return "", ErrNoCredential
}
