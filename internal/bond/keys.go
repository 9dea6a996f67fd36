package bond

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

// RootSize is the length of the local identity root.
const RootSize = 32

// Keys is the key material kept for one bonded peer.
type Keys struct {
	LTK [16]byte // long term key
	IRK [16]byte // identity resolving key
}

// LoadOrCreateRoot reads the identity root from path, generating and
// persisting a fresh one (mode 0600) when the file does not exist.
func LoadOrCreateRoot(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != RootSize {
			return nil, fmt.Errorf("bond: identity root %s is %d bytes, want %d", path, len(data), RootSize)
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("bond: read identity root: %w", err)
	}

	root := make([]byte, RootSize)
	if _, err := io.ReadFull(rand.Reader, root); err != nil {
		return nil, fmt.Errorf("bond: generate identity root: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("bond: create identity root dir: %w", err)
	}
	if err := os.WriteFile(path, root, 0o600); err != nil {
		return nil, fmt.Errorf("bond: write identity root: %w", err)
	}
	return root, nil
}

// DeriveKeys derives a peer's LTK and IRK from the identity root with
// HKDF-SHA256. salt is random per bonding so re-bonding rotates the keys.
func DeriveKeys(root, salt []byte, addr string) (Keys, error) {
	var k Keys
	r := hkdf.New(sha256.New, root, salt, []byte("nusbridge bond "+addr))
	if _, err := io.ReadFull(r, k.LTK[:]); err != nil {
		return Keys{}, fmt.Errorf("bond: HKDF ltk: %w", err)
	}
	if _, err := io.ReadFull(r, k.IRK[:]); err != nil {
		return Keys{}, fmt.Errorf("bond: HKDF irk: %w", err)
	}
	return k, nil
}

// storageKey derives the AES-256 key that seals LTKs at rest.
func storageKey(root []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, root, nil, []byte("nusbridge storage"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("bond: HKDF storage key: %w", err)
	}
	return key, nil
}

// seal encrypts plaintext with AES-256-GCM, returning iv (12 bytes),
// ciphertext and tag (16 bytes) separately as they are stored in separate
// columns.
func seal(key, plaintext []byte) (iv, ciphertext, tag []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bond: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bond: new GCM: %w", err)
	}

	iv = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, nil, fmt.Errorf("bond: random IV: %w", err)
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)
	tagSize := aead.Overhead()
	return iv, sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:], nil
}

// open reverses seal.
func open(key, iv, ciphertext, tag []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("bond: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("bond: new GCM: %w", err)
	}

	// Go's GCM wants ciphertext || tag; copy so the caller's slice is untouched.
	sealed := make([]byte, len(ciphertext)+len(tag))
	copy(sealed, ciphertext)
	copy(sealed[len(ciphertext):], tag)
	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("bond: open sealed key: %w", err)
	}
	return plaintext, nil
}
