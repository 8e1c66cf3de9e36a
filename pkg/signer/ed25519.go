package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/credon/veridex/pkg/types"
)

// ProofTypeEd25519 is the proof type emitted by Ed25519Signer.
const ProofTypeEd25519 = "Ed25519Signature2020"

// Ed25519Signer signs credentials with an Ed25519 key, attaching a
// linked-data proof. The signed payload is the credential's canonical JSON
// form without any proof, which Credential.MarshalJSON makes deterministic
// (object keys sort).
type Ed25519Signer struct {
	privateKey         ed25519.PrivateKey
	publicKey          ed25519.PublicKey
	verificationMethod string
}

// NewEd25519Signer creates a signer from an existing private key.
func NewEd25519Signer(key ed25519.PrivateKey, verificationMethod string) (*Ed25519Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid Ed25519 private key size %d", len(key))
	}
	if verificationMethod == "" {
		return nil, fmt.Errorf("verification method is required")
	}
	return &Ed25519Signer{
		privateKey:         key,
		publicKey:          key.Public().(ed25519.PublicKey),
		verificationMethod: verificationMethod,
	}, nil
}

// Generate creates a signer with a fresh key pair.
func Generate(verificationMethod string) (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewEd25519Signer(priv, verificationMethod)
}

// Sign returns a copy of the credential carrying a proof over its canonical
// form. The input credential is not modified.
func (s *Ed25519Signer) Sign(ctx context.Context, cred *types.Credential) (*types.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, signed, err := canonicalPayload(cred)
	if err != nil {
		return nil, err
	}
	signature := ed25519.Sign(s.privateKey, payload)
	signed.Proof = &types.Proof{
		Type:               ProofTypeEd25519,
		Created:            time.Now().UTC().Format(time.RFC3339),
		VerificationMethod: s.verificationMethod,
		ProofPurpose:       "assertionMethod",
		ProofValue:         "z" + base58Encode(signature),
	}
	return signed, nil
}

// Verify checks a credential signed by this signer's key.
func (s *Ed25519Signer) Verify(cred *types.Credential) error {
	if cred.Proof == nil {
		return fmt.Errorf("credential carries no proof")
	}
	if cred.Proof.Type != ProofTypeEd25519 {
		return fmt.Errorf("unsupported proof type %q", cred.Proof.Type)
	}
	value := cred.Proof.ProofValue
	if len(value) < 2 || value[0] != 'z' {
		return fmt.Errorf("malformed proof value")
	}
	signature, err := base58Decode(value[1:])
	if err != nil {
		return fmt.Errorf("malformed proof value: %w", err)
	}
	payload, _, err := canonicalPayload(cred)
	if err != nil {
		return err
	}
	if !ed25519.Verify(s.publicKey, payload, signature) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// canonicalPayload deep-copies the credential, strips the proof and returns
// the canonical JSON bytes along with the copy.
func canonicalPayload(cred *types.Credential) ([]byte, *types.Credential, error) {
	data, err := json.Marshal(cred)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal credential: %w", err)
	}
	copied := new(types.Credential)
	if err := json.Unmarshal(data, copied); err != nil {
		return nil, nil, fmt.Errorf("failed to copy credential: %w", err)
	}
	copied.Proof = nil
	payload, err := json.Marshal(copied)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal credential payload: %w", err)
	}
	return payload, copied, nil
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Index = func() map[byte]int64 {
	idx := make(map[byte]int64, len(base58Alphabet))
	for i := 0; i < len(base58Alphabet); i++ {
		idx[base58Alphabet[i]] = int64(i)
	}
	return idx
}()

func base58Encode(data []byte) string {
	n := new(big.Int).SetBytes(data)
	radix := big.NewInt(58)
	mod := new(big.Int)
	var out []byte
	for n.Sign() > 0 {
		n.DivMod(n, radix, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for _, b := range data {
		if b != 0 {
			break
		}
		out = append(out, base58Alphabet[0])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func base58Decode(encoded string) ([]byte, error) {
	n := big.NewInt(0)
	radix := big.NewInt(58)
	for i := 0; i < len(encoded); i++ {
		digit, ok := base58Index[encoded[i]]
		if !ok {
			return nil, fmt.Errorf("invalid base58 character %q", encoded[i])
		}
		n.Mul(n, radix)
		n.Add(n, big.NewInt(digit))
	}
	decoded := n.Bytes()
	leading := 0
	for leading < len(encoded) && encoded[leading] == base58Alphabet[0] {
		leading++
	}
	out := make([]byte, leading+len(decoded))
	copy(out[leading:], decoded)
	return out, nil
}
