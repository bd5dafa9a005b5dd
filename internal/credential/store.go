// Package credential holds the bearer token used for listing and download calls
// and keeps it current from a token file.
package credential

import (
	"strings"
	"sync/atomic"
)

// Store is a single atomic slot for the current token. Readers never block;
// writers replace the value wholesale and the last write wins.
type Store struct {
	token atomic.Pointer[string]
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{}
}

// Get returns the current token. ok is false when no token was set or the
// token is blank.
func (s *Store) Get() (token string, ok bool) {
	p := s.token.Load()
	if p == nil || *p == "" {
		return "", false
	}
	return *p, true
}

// Set replaces the current token. Surrounding whitespace is dropped so a
// trailing newline in the token file does not end up in the header.
func (s *Store) Set(token string) {
	t := strings.TrimSpace(token)
	s.token.Store(&t)
}
