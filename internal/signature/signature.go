// Package signature wraps the validator's sr25519 hotkey: derivation from a
// mnemonic, SS58 encoding, and payload signing.
package signature

import (
	"encoding/hex"
	"fmt"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/vedhavyas/go-subkey"
)

const (
	// SubstrateNetworkID is the generic substrate SS58 prefix used by
	// Bittensor hotkeys.
	SubstrateNetworkID = 42
)

// Signer produces signatures with the validator hotkey.
type Signer interface {
	// Sign generates a hex signature for the given message.
	Sign(message []byte) (string, error)
	// Address returns the SS58 address of the hotkey.
	Address() string
}

// Keypair is a concrete Signer backed by an sr25519 keypair.
type Keypair struct {
	keypair *sr25519.Keypair
	address string
}

// NewKeypairFromMnemonic derives the hotkey keypair from its secret phrase.
// The mnemonic must never be logged.
func NewKeypairFromMnemonic(mnemonic string) (*Keypair, error) {
	if mnemonic == "" {
		return nil, fmt.Errorf("hotkey mnemonic is empty")
	}
	kp, err := sr25519.NewKeypairFromMnenomic(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create keypair from seed phrase: %w", err)
	}
	return &Keypair{
		keypair: kp,
		address: subkey.SS58Encode(kp.Public().Encode(), SubstrateNetworkID),
	}, nil
}

// Sign implements Signer, returning the signature as 0x-prefixed hex.
func (k *Keypair) Sign(message []byte) (string, error) {
	if k.keypair == nil {
		return "", fmt.Errorf("private key not initialized")
	}
	sig, err := k.keypair.Sign(message)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// Address implements Signer.
func (k *Keypair) Address() string {
	return k.address
}
