package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	nonceSize = 12
	tagSize   = 16
)

var (
	// ErrUnknownKeyVersion is returned when a ciphertext references a key the ring does not hold.
	ErrUnknownKeyVersion = errors.New("vault: unknown key version")
	// ErrDecrypt hides the cause of an authentication failure.
	ErrDecrypt = errors.New("vault: decryption failed")
)

// KeyRing resolves encryption keys by version. New data is always sealed with
// the current key; older versions stay available for decryption.
type KeyRing interface {
	Current() (version int, key []byte)
	Key(version int) ([]byte, bool)
}

// StaticKeyRing derives 256-bit keys from configured secrets.
type StaticKeyRing struct {
	current int
	keys    map[int][]byte
}

// NewStaticKeyRing builds a ring where current is the newest secret and
// previous lists older secrets, oldest first. Versions are 1-based so the
// current secret has version len(previous)+1.
func NewStaticKeyRing(current string, previous ...string) (*StaticKeyRing, error) {
	if strings.TrimSpace(current) == "" {
		return nil, errors.New("vault: secret is empty")
	}

	ring := &StaticKeyRing{keys: make(map[int][]byte)}
	version := 0
	for _, secret := range previous {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			continue
		}
		version++
		ring.keys[version] = deriveKey(secret)
	}
	version++
	ring.keys[version] = deriveKey(current)
	ring.current = version

	return ring, nil
}

func (r *StaticKeyRing) Current() (int, []byte) {
	return r.current, r.keys[r.current]
}

func (r *StaticKeyRing) Key(version int) ([]byte, bool) {
	key, ok := r.keys[version]
	return key, ok
}

func deriveKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// Sealed is an AES-256-GCM ciphertext with its nonce and tag kept apart, all
// base64 encoded.
type Sealed struct {
	Ciphertext string
	IV         string
	Tag        string
	KeyVersion int
}

// Encrypt seals plaintext with the current key of ring.
func Encrypt(ring KeyRing, plaintext string) (Sealed, error) {
	version, key := ring.Current()
	gcm, err := newGCM(key)
	if err != nil {
		return Sealed{}, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, fmt.Errorf("vault: nonce: %w", err)
	}

	out := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	body, tag := out[:len(out)-tagSize], out[len(out)-tagSize:]

	return Sealed{
		Ciphertext: base64.StdEncoding.EncodeToString(body),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		Tag:        base64.StdEncoding.EncodeToString(tag),
		KeyVersion: version,
	}, nil
}

// Decrypt opens s with the key of its version. Any tampering or a wrong key
// yields ErrDecrypt.
func Decrypt(ring KeyRing, s Sealed) (string, error) {
	key, ok := ring.Key(s.KeyVersion)
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownKeyVersion, s.KeyVersion)
	}

	body, err := base64.StdEncoding.DecodeString(s.Ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	nonce, err := base64.StdEncoding.DecodeString(s.IV)
	if err != nil || len(nonce) != nonceSize {
		return "", ErrDecrypt
	}
	tag, err := base64.StdEncoding.DecodeString(s.Tag)
	if err != nil || len(tag) != tagSize {
		return "", ErrDecrypt
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	plain, err := gcm.Open(nil, nonce, append(body, tag...), nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
