package securestore

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/rideline/ridectl/internal/domain/credential"
)

var fileMagic = []byte("RCS1")

const (
	saltSize = 16
	keyInfo  = "ridectl credentials v1"
)

// ErrDecrypt means the credential file was tampered with or the secret changed.
var ErrDecrypt = errors.New("credential file cannot be decrypted")

// FileStore keeps credentials in a single sealed file.
// Layout: magic | salt | nonce | XChaCha20-Poly1305(json).
type FileStore struct {
	path   string
	secret []byte
	logger *zap.Logger

	mu sync.Mutex
}

// NewFileStore creates a FileStore. The secret is key material, not the key;
// every write derives a fresh key from it with HKDF and a new salt.
func NewFileStore(path string, secret []byte, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("credential path is required")
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("credential secret is required")
	}
	return &FileStore{path: path, secret: secret, logger: logger}, nil
}

// Load reads and opens the credential file.
func (s *FileStore) Load(_ context.Context) (*credential.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, credential.ErrNoCredentials
		}
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	plain, err := s.open(raw)
	if err != nil {
		return nil, err
	}

	var creds credential.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	if creds.Token == "" {
		return nil, credential.ErrNoCredentials
	}
	return &creds, nil
}

// Save seals and atomically replaces the credential file.
func (s *FileStore) Save(_ context.Context, creds *credential.Credentials) error {
	if creds == nil || creds.Token == "" {
		return fmt.Errorf("refusing to store empty credentials")
	}

	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := s.seal(plain)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to restrict credential file: %w", err)
	}
	if _, err := tmp.Write(sealed); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credential file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace credential file: %w", err)
	}

	s.logger.Debug("credentials stored",
		zap.String("path", s.path),
		zap.String("role", creds.Role.String()),
	)
	return nil
}

// Clear removes the credential file. A missing file is not an error.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	s.logger.Debug("credentials cleared", zap.String("path", s.path))
	return nil
}

func (s *FileStore) deriveKey(salt []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.secret, salt, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive credential key: %w", err)
	}
	return key, nil
}

func (s *FileStore) seal(plain []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	key, err := s.deriveKey(salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	header := make([]byte, 0, len(fileMagic)+saltSize+len(nonce))
	header = append(header, fileMagic...)
	header = append(header, salt...)
	header = append(header, nonce...)

	// The header is authenticated as additional data.
	aad := append([]byte(nil), header...)
	return aead.Seal(header, nonce, plain, aad), nil
}

func (s *FileStore) open(raw []byte) ([]byte, error) {
	headerLen := len(fileMagic) + saltSize + chacha20poly1305.NonceSizeX
	if len(raw) < headerLen+chacha20poly1305.Overhead || !bytes.HasPrefix(raw, fileMagic) {
		return nil, ErrDecrypt
	}
	header := raw[:headerLen]
	salt := header[len(fileMagic) : len(fileMagic)+saltSize]
	nonce := header[len(fileMagic)+saltSize:]

	key, err := s.deriveKey(salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	plain, err := aead.Open(nil, nonce, raw[headerLen:], header)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
