package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo binds derived keys to this store so a shared passphrase cannot be
// replayed against other files.
const hkdfInfo = "msixvcdl credential store v1"

// Store persists the token bundle to a single file. It is the sole writer of
// the bundle; saves are atomic with respect to concurrent in-process loads.
// When constructed with a passphrase the bundle is sealed with
// ChaCha20-Poly1305 at rest.
type Store struct {
	path string
	aead cipher.AEAD
	mu   sync.Mutex
	now  func() time.Time
}

// NewStore creates a credential store backed by the given file path.
// An empty passphrase stores the bundle as plain JSON.
func NewStore(path, passphrase string) (*Store, error) {
	s := &Store{path: path, now: time.Now}

	if passphrase != "" {
		key := make([]byte, chacha20poly1305.KeySize)
		kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte(hkdfInfo))
		if _, err := io.ReadFull(kdf, key); err != nil {
			return nil, fmt.Errorf("failed to derive credential key: %w", err)
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize credential cipher: %w", err)
		}
		s.aead = aead
	}

	return s, nil
}

// Load reads the persisted bundle. It returns (nil, nil) when no bundle has
// ever been saved.
func (s *Store) Load() (*TokenBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	if s.aead != nil {
		if len(data) < s.aead.NonceSize() {
			return nil, fmt.Errorf("credential file too short to decrypt")
		}
		nonce, ciphertext := data[:s.aead.NonceSize()], data[s.aead.NonceSize():]
		data, err = s.aead.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt credential file: %w", err)
		}
	}

	var bundle TokenBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}

	return &bundle, nil
}

// Save persists the bundle. A relative expires_in value is converted to an
// absolute expires_at instant here, so consumers never re-derive expiry from
// a stale issue time. The write goes through a temp file and rename so a
// concurrent Load never observes a partial record.
func (s *Store) Save(bundle *TokenBundle) error {
	if bundle == nil {
		return fmt.Errorf("cannot save nil bundle")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	persisted := *bundle
	if persisted.ExpiresIn > 0 {
		persisted.ExpiresAt = s.now().Add(time.Duration(persisted.ExpiresIn) * time.Second)
		persisted.ExpiresIn = 0
	}
	// Reflect the derived expiry back so the caller's decision procedure
	// sees the same instant that was persisted.
	bundle.ExpiresAt = persisted.ExpiresAt
	bundle.ExpiresIn = 0

	data, err := json.MarshalIndent(&persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize bundle: %w", err)
	}

	if s.aead != nil {
		nonce := make([]byte, s.aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return fmt.Errorf("failed to generate nonce: %w", err)
		}
		data = append(nonce, s.aead.Seal(nil, nonce, data, nil)...)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to restrict credential file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close credential file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace credential file: %w", err)
	}

	return nil
}

// Path returns the credential file path.
func (s *Store) Path() string {
	return s.path
}
