package store

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Codec seals and opens record payloads. Open must fail on any tampering or
// key mismatch; the store translates such failures into eviction, never into
// a caller-visible error.
type Codec interface {
	Seal(namespace string, plaintext []byte) (string, error)
	Open(namespace, sealed string) ([]byte, error)
}

const minMasterKeySize = 16

var (
	// ErrCodecKeyTooShort rejects master keys below the minimum size at
	// construction time.
	ErrCodecKeyTooShort = errors.New("codec master key too short")

	errCodecOpen = errors.New("codec open failed")
)

// AEADCodec is the shipped [Codec]: ChaCha20-Poly1305 with a per-namespace
// subkey derived from the master key via HKDF-SHA256. The namespace doubles
// as additional authenticated data, so a record copied between namespaces
// fails to open.
type AEADCodec struct {
	master []byte

	mu      sync.Mutex
	subkeys map[string]cipher.AEAD
}

// NewAEADCodec derives nothing eagerly; subkeys are built per namespace on
// first use and cached.
func NewAEADCodec(masterKey []byte) (*AEADCodec, error) {
	if len(masterKey) < minMasterKeySize {
		return nil, ErrCodecKeyTooShort
	}
	master := make([]byte, len(masterKey))
	copy(master, masterKey)
	return &AEADCodec{
		master:  master,
		subkeys: make(map[string]cipher.AEAD),
	}, nil
}

func (c *AEADCodec) aead(namespace string) (cipher.AEAD, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if aead, ok := c.subkeys[namespace]; ok {
		return aead, nil
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, c.master, nil, []byte("securekit/"+namespace))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("codec key derivation: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("codec cipher init: %w", err)
	}
	c.subkeys[namespace] = aead
	return aead, nil
}

// Seal encrypts plaintext under the namespace subkey. Output is
// base64(nonce || ciphertext).
func (c *AEADCodec) Seal(namespace string, plaintext []byte) (string, error) {
	aead, err := c.aead(namespace)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("codec nonce: %w", err)
	}

	out := aead.Seal(nonce, nonce, plaintext, []byte(namespace))
	return base64.RawStdEncoding.EncodeToString(out), nil
}

// Open reverses [AEADCodec.Seal]. Any malformed input, truncation, or
// authentication failure returns an error wrapping no sensitive detail.
func (c *AEADCodec) Open(namespace, sealed string) ([]byte, error) {
	aead, err := c.aead(namespace)
	if err != nil {
		return nil, err
	}

	raw, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, errCodecOpen
	}
	if len(raw) < aead.NonceSize() {
		return nil, errCodecOpen
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(namespace))
	if err != nil {
		return nil, errCodecOpen
	}
	return plaintext, nil
}
