package crypto

import (
	"fmt"

	"github.com/tyler-smith/go-bip39"
)

// MnemonicEntropyBits is the entropy size backing a 24-word recovery phrase.
const MnemonicEntropyBits = 256

// SeedSize is the length in bytes of the seed derived from a mnemonic.
const SeedSize = 64

// GenerateMnemonic produces a new 24-word BIP-39 recovery phrase.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("crypto: generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("crypto: generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic reports whether a phrase is a well-formed BIP-39
// mnemonic (correct wordlist membership and checksum).
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// SeedFromMnemonic derives a 64-byte seed from a mnemonic and optional
// passphrase. The validator's signing keypair is taken deterministically
// from the first 32 bytes via PrivateKeyFromSeed; there is no further
// BIP-32-style derivation tree, since genesis fixes one Ed25519 keypair
// per validator rather than a multi-account wallet.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("crypto: invalid mnemonic")
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: derive seed: %w", err)
	}
	return seed, nil
}

// KeyFromMnemonic derives a validator's Ed25519 keypair directly from a
// recovery phrase: the first 32 bytes of SeedFromMnemonic's output become
// the Ed25519 seed.
func KeyFromMnemonic(mnemonic, passphrase string) (*PrivateKey, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return PrivateKeyFromSeed(seed[:32])
}
