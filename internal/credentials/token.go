// Package credentials keeps OAuth tokens for cloud backends on disk,
// encrypted with an age scrypt passphrase.
package credentials

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"
	"golang.org/x/oauth2"
)

// TokenStore reads and writes one passphrase-encrypted OAuth token file.
type TokenStore struct {
	path       string
	workFactor int // scrypt log2(N); 0 uses age's default
}

// NewTokenStore creates a store for the token file at path.
func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// SetWorkFactor overrides the scrypt work factor used when saving. Tests use
// a low value to keep encryption fast.
func (s *TokenStore) SetWorkFactor(logN int) {
	s.workFactor = logN
}

// Path returns the token file location.
func (s *TokenStore) Path() string { return s.path }

// Exists reports whether a token file has been saved.
func (s *TokenStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Save encrypts tok with passphrase and writes it atomically.
func (s *TokenStore) Save(tok *oauth2.Token, passphrase string) error {
	if tok == nil {
		return fmt.Errorf("no token to save")
	}
	plain, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if s.workFactor > 0 {
		recipient.SetWorkFactor(s.workFactor)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return fmt.Errorf("writing encrypted token: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}

// Load decrypts the token file with passphrase.
func (s *TokenStore) Load(passphrase string) (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting token: %w", err)
	}

	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted token: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(plain, &tok); err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("token file holds no access or refresh token")
	}
	return &tok, nil
}

// Import reads a plaintext token JSON (as written by an OAuth consent flow)
// and saves it encrypted.
func (s *TokenStore) Import(r io.Reader, passphrase string) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.NewDecoder(r).Decode(&tok); err != nil {
		return nil, fmt.Errorf("parsing token json: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("token has no refresh token")
	}
	if err := s.Save(&tok, passphrase); err != nil {
		return nil, err
	}
	return &tok, nil
}

// TokenSource returns a token source that refreshes through base and writes
// every newly issued token back to the store.
func (s *TokenStore) TokenSource(base oauth2.TokenSource, current *oauth2.Token, passphrase string) oauth2.TokenSource {
	return &persistingSource{store: s, base: base, last: current, passphrase: passphrase}
}

type persistingSource struct {
	mu         sync.Mutex
	store      *TokenStore
	base       oauth2.TokenSource
	last       *oauth2.Token
	passphrase string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil || tok.AccessToken != p.last.AccessToken {
		// A failed write only costs a refresh on the next run.
		_ = p.store.Save(tok, p.passphrase)
		p.last = tok
	}
	return tok, nil
}
