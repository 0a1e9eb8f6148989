// Package auth supplies the bearer credential used by the push connection and
// the REST client.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrNoToken is returned when no credential is available.
var ErrNoToken = errors.New("no token available")

// TokenSource provides the current bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token. The empty token yields ErrNoToken.
type StaticToken string

// Token returns the token.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// FileTokenSource reads the token from a file, re-reading it when the file
// changes so an external login helper can rotate it.
type FileTokenSource struct {
	path string

	mu      sync.Mutex
	cached  string
	modTime time.Time
}

// NewFileTokenSource creates a token source backed by path.
func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{path: path}
}

// Token returns the file's token, trimmed of surrounding whitespace.
func (f *FileTokenSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := os.Stat(f.path)
	if err != nil {
		return "", fmt.Errorf("stat token file: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cached != "" && info.ModTime().Equal(f.modTime) {
		return f.cached, nil
	}

	token, err := LoadToken(f.path)
	if err != nil {
		return "", err
	}
	f.cached = token
	f.modTime = info.ModTime()
	return token, nil
}

// LoadToken reads a bearer token from a file. A "Bearer " prefix is stripped.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// FromConfig picks a source: an inline token wins over a token file. With
// neither set the returned source always fails with ErrNoToken.
func FromConfig(token, tokenFile string) TokenSource {
	if token != "" {
		return StaticToken(token)
	}
	if tokenFile != "" {
		return NewFileTokenSource(tokenFile)
	}
	return StaticToken("")
}
