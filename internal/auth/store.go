// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth manages the ForgeAgents session tokens: in-memory state,
// expiry-aware access, and persistence to local credential storage.
package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/vibeforge/forge-go/internal/util"
)

// Credentials is the persisted token triple.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store persists credentials across process restarts.
//
// Load returns (nil, nil) when no credentials have been saved yet.
type Store interface {
	Load() (*Credentials, error)
	Save(*Credentials) error
	Clear() error
}

// ErrCorruptStore indicates stored credentials could not be decrypted or
// decoded, usually after tampering or a lost key file.
var ErrCorruptStore = errors.New("stored credentials are corrupt")

// =============================================================================
// PLAIN FILE STORE (FALLBACK)
// =============================================================================

// FileStore persists credentials as plain JSON with 0600 permissions. It is
// the fallback when the encrypted store cannot be initialized.
type FileStore struct {
	path string
}

// NewFileStore creates a plain-file credential store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	return &creds, nil
}

func (s *FileStore) Save(creds *Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	return util.AtomicWriteFile(s.path, data, 0o600)
}

func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// =============================================================================
// ENCRYPTED FILE STORE
// =============================================================================

// Parameters for the at-rest encryption of the credential file.
const (
	saltSize         = 32
	nonceSize        = 12
	keySize          = 32
	pbkdf2Iterations = 600_000
	machineKeySize   = 32
)

// EncryptedFileStore persists credentials encrypted with AES-256-GCM. The
// encryption key is derived (PBKDF2-SHA-256) from a random per-machine
// secret kept next to the credential file with 0600 permissions. This is
// the closest local equivalent of a platform secure-storage call.
type EncryptedFileStore struct {
	path    string
	keyPath string
}

// NewEncryptedFileStore creates an encrypted credential store in dir,
// generating the machine secret on first use.
func NewEncryptedFileStore(dir string) (*EncryptedFileStore, error) {
	s := &EncryptedFileStore{
		path:    filepath.Join(dir, "credentials.enc"),
		keyPath: filepath.Join(dir, "credentials.key"),
	}
	if _, err := s.machineKey(); err != nil {
		return nil, err
	}
	return s, nil
}

// machineKey loads the per-machine secret, creating it when absent.
func (s *EncryptedFileStore) machineKey() ([]byte, error) {
	key, err := os.ReadFile(s.keyPath)
	if err == nil {
		if len(key) != machineKeySize {
			return nil, fmt.Errorf("%w: bad key length %d", ErrCorruptStore, len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read machine key: %w", err)
	}

	key = make([]byte, machineKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate machine key: %w", err)
	}
	if err := util.AtomicWriteFile(s.keyPath, key, 0o600); err != nil {
		return nil, fmt.Errorf("store machine key: %w", err)
	}
	return key, nil
}

func (s *EncryptedFileStore) Load() (*Credentials, error) {
	blob, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	if len(blob) < saltSize+nonceSize {
		return nil, fmt.Errorf("%w: truncated file", ErrCorruptStore)
	}

	secret, err := s.machineKey()
	if err != nil {
		return nil, err
	}

	salt, nonce, ciphertext := blob[:saltSize], blob[saltSize:saltSize+nonceSize], blob[saltSize+nonceSize:]
	aead, err := newAEAD(secret, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	return &creds, nil
}

func (s *EncryptedFileStore) Save(creds *Credentials) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	secret, err := s.machineKey()
	if err != nil {
		return err
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	aead, err := newAEAD(secret, salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	blob := make([]byte, 0, saltSize+nonceSize+len(plaintext)+aead.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, plaintext, nil)

	return util.AtomicWriteFile(s.path, blob, 0o600)
}

func (s *EncryptedFileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credentials: %w", err)
	}
	return nil
}

// newAEAD derives the AES-256-GCM cipher for a given salt.
func newAEAD(secret, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(secret, salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init GCM: %w", err)
	}
	return aead, nil
}
