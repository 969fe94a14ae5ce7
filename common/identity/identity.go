// Package identity manages the Ed25519 keypair that names a consensus
// authority, including encrypted-at-rest persistence of the private half.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
	"github.com/oasisprotocol/deoxysii"

	"github.com/narwhal-go/narwhal/common/logging"
)

var logger = logging.GetLogger("common/identity")

// ErrMalformedBlob is returned when an on-disk identity blob cannot be
// decrypted or decoded.
var ErrMalformedBlob = errors.New("identity: malformed or undecryptable blob")

// Identity is a node's Ed25519 keypair.
type Identity struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// Sign signs message with the identity's private key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.private, message)
}

// Generate creates a fresh random identity.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return &Identity{Public: pub, private: priv}, nil
}

// FromSeed deterministically derives an identity from a 32-byte seed, as
// produced by a BIP-39 mnemonic.
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{Public: pub, private: priv}, nil
}

// persistedIdentity is the CBOR shape written to disk, before encryption.
type persistedIdentity struct {
	PrivateKey []byte `cbor:"private_key"`
}

// Save encrypts and persists the identity's private key to path, using
// passphrase to derive the encryption key.
func (id *Identity) Save(path string, passphrase []byte) error {
	blob, err := cbor.Marshal(&persistedIdentity{PrivateKey: id.private})
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}

	var key [deoxysii.KeySize]byte
	copy(key[:], deriveKey(passphrase))
	aead, err := deoxysii.New(&key)
	if err != nil {
		return fmt.Errorf("identity: init cipher: %w", err)
	}

	nonce := make([]byte, deoxysii.NonceSize)
	if _, err = rand.Read(nonce); err != nil {
		return fmt.Errorf("identity: generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, blob, nil)
	out := append(nonce, ciphertext...)

	if err = os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("identity: write %s: %w", path, err)
	}

	logger.Info("persisted identity", "path", path, "public_key", id.Public)
	return nil
}

// Load decrypts and loads an identity previously written by Save.
func Load(path string, passphrase []byte) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}
	if len(raw) < deoxysii.NonceSize {
		return nil, ErrMalformedBlob
	}

	nonce, ciphertext := raw[:deoxysii.NonceSize], raw[deoxysii.NonceSize:]

	var key [deoxysii.KeySize]byte
	copy(key[:], deriveKey(passphrase))
	aead, err := deoxysii.New(&key)
	if err != nil {
		return nil, fmt.Errorf("identity: init cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrMalformedBlob
	}

	var persisted persistedIdentity
	if err = cbor.Unmarshal(plaintext, &persisted); err != nil {
		return nil, ErrMalformedBlob
	}

	priv := ed25519.PrivateKey(persisted.PrivateKey)
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{Public: pub, private: priv}, nil
}

// deriveKey stretches an arbitrary-length passphrase into a fixed-size AEAD
// key. It is deliberately simple: this module protects a local identity
// file against casual disk scraping, not a hostile multi-tenant host.
func deriveKey(passphrase []byte) []byte {
	sum := sha256.Sum256(passphrase)
	return sum[:]
}
