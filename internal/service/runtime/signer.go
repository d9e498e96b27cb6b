package runtime

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// SignerLock serializes extrinsic submission per signing account. Substrate
// nonces are sequential, so two in-flight extrinsics from the same account
// would race; distinct accounts proceed independently.
type SignerLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSignerLock creates an empty signer lock table.
func NewSignerLock() *SignerLock {
	return &SignerLock{locks: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the account's lock is held and returns the release
// function.
func (s *SignerLock) Acquire(account string) func() {
	s.mu.Lock()
	lock, ok := s.locks[account]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[account] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// SeedSigner signs createVideo extrinsics with an ed25519 key derived from
// the configured account seed. The heavier transaction-builder machinery
// lives outside the sync engine; this covers the deployment where the node
// accepts the engine's canonical payload encoding.
type SeedSigner struct {
	key ed25519.PrivateKey
}

// NewSeedSigner derives the signing key from the account seed.
func NewSeedSigner(seed string) (*SeedSigner, error) {
	if seed == "" {
		return nil, fmt.Errorf("empty account seed")
	}
	digest := sha256.Sum256([]byte(seed))
	return &SeedSigner{key: ed25519.NewKeyFromSeed(digest[:])}, nil
}

type signedPayload struct {
	Call      string            `json:"call"`
	Intent    CreateVideoIntent `json:"intent"`
	Nonce     uint64            `json:"nonce"`
	Signature string            `json:"signature"`
	Signer    string            `json:"signer"`
}

// SignCreateVideo produces the serialized, signed extrinsic payload.
func (s *SeedSigner) SignCreateVideo(intent CreateVideoIntent, nonce uint64) (string, error) {
	unsigned := signedPayload{
		Call:   "content.createVideo",
		Intent: intent,
		Nonce:  nonce,
	}
	body, err := json.Marshal(unsigned)
	if err != nil {
		return "", fmt.Errorf("encode extrinsic payload: %w", err)
	}

	signature := ed25519.Sign(s.key, body)
	unsigned.Signature = hex.EncodeToString(signature)
	unsigned.Signer = hex.EncodeToString(s.key.Public().(ed25519.PublicKey))

	signed, err := json.Marshal(unsigned)
	if err != nil {
		return "", fmt.Errorf("encode signed extrinsic: %w", err)
	}
	return hex.EncodeToString(signed), nil
}
