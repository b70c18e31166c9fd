// Package auth checks the ingest tokens agents present to the collector.
//
// A token is sent as "Authorization: Bearer <token>" or as the password of
// HTTP basic auth. Configured entries are either plain tokens, compared in
// constant time, or bcrypt hashes as printed by `logship hash-token`.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNoToken      = errors.New("auth: no token presented")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Tokens is the set of accepted ingest tokens.
type Tokens struct {
	plain  [][]byte
	hashes [][]byte

	// bcrypt is slow; digests of tokens that already matched a hash are
	// remembered.
	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}
}

// NewTokens builds the set. Entries starting with "$2" are treated as
// bcrypt hashes. An empty set disables authentication.
func NewTokens(entries []string) (*Tokens, error) {
	t := &Tokens{verified: make(map[[sha256.Size]byte]struct{})}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		switch {
		case e == "":
			continue
		case strings.HasPrefix(e, "$2"):
			if _, err := bcrypt.Cost([]byte(e)); err != nil {
				return nil, err
			}
			t.hashes = append(t.hashes, []byte(e))
		default:
			t.plain = append(t.plain, []byte(e))
		}
	}
	return t, nil
}

// Enabled reports whether any token is configured.
func (t *Tokens) Enabled() bool {
	return t != nil && (len(t.plain) > 0 || len(t.hashes) > 0)
}

// Check validates token.
func (t *Tokens) Check(token string) error {
	if token == "" {
		return ErrNoToken
	}
	b := []byte(token)
	for _, p := range t.plain {
		if subtle.ConstantTimeCompare(p, b) == 1 {
			return nil
		}
	}
	sum := sha256.Sum256(b)
	t.mu.RLock()
	_, ok := t.verified[sum]
	t.mu.RUnlock()
	if ok {
		return nil
	}
	for _, h := range t.hashes {
		if bcrypt.CompareHashAndPassword(h, b) == nil {
			t.mu.Lock()
			t.verified[sum] = struct{}{}
			t.mu.Unlock()
			return nil
		}
	}
	return ErrInvalidToken
}

// FromRequest extracts the presented token.
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if _, pw, ok := r.BasicAuth(); ok {
		return pw
	}
	return ""
}

// HashToken returns the bcrypt hash of token for use in a token list.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrNoToken
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	return string(h), err
}
