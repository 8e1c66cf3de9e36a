package docstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// Vault provides encryption at rest for the document store. Document values
// are sealed with AES-256-GCM, bound to their document ID as associated data
// so a sealed value cannot be swapped under another key in the database
// file. Index keys are blinded with HMAC-SHA256 under a separate key derived
// from the vault key, so lookup attributes are not recoverable either.
type Vault struct {
	aead        cipher.AEAD
	blindingKey []byte
}

// NewVault creates a vault from a 32-byte key. The AEAD is constructed once
// here; Seal and Open only run the cipher.
func NewVault(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must be 32 bytes for AES-256, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault cipher setup: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault cipher setup: %w", err)
	}
	// Blinding uses its own key so index residues reveal nothing about the
	// value encryption.
	blinding := sha256.Sum256(append([]byte("veridex-index-blinding:"), key...))
	return &Vault{
		aead:        aead,
		blindingKey: blinding[:],
	}, nil
}

// NewVaultFromPassword derives the vault key from a password via SHA-256.
func NewVaultFromPassword(password string) (*Vault, error) {
	if password == "" {
		return nil, fmt.Errorf("vault password must not be empty")
	}
	key := sha256.Sum256([]byte(password))
	return NewVault(key[:])
}

// Seal encrypts a document value, authenticated against the owning document
// ID. The random nonce leads the returned blob.
func (v *Vault) Seal(docID string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault nonce for document %s: %w", docID, err)
	}
	sealed := make([]byte, 0, len(nonce)+len(plaintext)+v.aead.Overhead())
	sealed = append(sealed, nonce...)
	return v.aead.Seal(sealed, nonce, plaintext, []byte(docID)), nil
}

// Open decrypts a value sealed for the same document ID. Truncation,
// tampering and cross-document substitution all fail authentication.
func (v *Vault) Open(docID string, sealed []byte) ([]byte, error) {
	nonceSize := v.aead.NonceSize()
	if len(sealed) < nonceSize+v.aead.Overhead() {
		return nil, fmt.Errorf("sealed value for document %s is truncated", docID)
	}
	plaintext, err := v.aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], []byte(docID))
	if err != nil {
		return nil, fmt.Errorf("cannot open sealed document %s: %w", docID, err)
	}
	return plaintext, nil
}

// Blind maps an index key to a deterministic keyed hash.
func (v *Vault) Blind(key string) []byte {
	mac := hmac.New(sha256.New, v.blindingKey)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}
