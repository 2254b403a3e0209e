package chain

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	bip39 "github.com/cosmos/go-bip39"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // bech32 account addresses require ripemd160
)

// cosmosCoinType is the SLIP-44 coin type used for the m/44'/118'/0'/0/0
// derivation path.
const cosmosCoinType = 118

// AccountKey is the faucet hot wallet identity: a secp256k1 key pair and
// the bech32 account address derived from it.
type AccountKey struct {
	Address string
	priv    *secp256k1.PrivateKey
}

// DeriveAccount derives the hot wallet key from a BIP39 mnemonic at the
// standard cosmos path and encodes the account address with the given
// bech32 prefix.
func DeriveAccount(mnemonic, prefix string) (*AccountKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}
	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + cosmosCoinType,
		hdkeychain.HardenedKeyStart + 0,
		0,
		0,
	}
	for _, index := range path {
		if key, err = key.Derive(index); err != nil {
			return nil, fmt.Errorf("derive path index %d: %w", index, err)
		}
	}
	ecPriv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("derive private key: %w", err)
	}
	priv := secp256k1.PrivKeyFromBytes(ecPriv.Serialize())
	addr, err := Bech32Address(priv.PubKey(), prefix)
	if err != nil {
		return nil, err
	}
	return &AccountKey{Address: addr, priv: priv}, nil
}

// PubKeyBytes returns the compressed secp256k1 public key.
func (k *AccountKey) PubKeyBytes() []byte {
	return k.priv.PubKey().SerializeCompressed()
}

// Sign signs the given message with the account key. The digest is
// sha256(msg) and the signature is the 64-byte r||s form used by cosmos
// chains.
func (k *AccountKey) Sign(msg []byte) []byte {
	digest := sha256.Sum256(msg)
	return signCompact(k.priv, digest[:])
}

// Bech32Address encodes the cosmos account address of a public key:
// bech32(prefix, ripemd160(sha256(compressed_pubkey))).
func Bech32Address(pub *secp256k1.PublicKey, prefix string) (string, error) {
	sha := sha256.Sum256(pub.SerializeCompressed())
	hasher := ripemd160.New()
	hasher.Write(sha[:])
	payload, err := bech32.ConvertBits(hasher.Sum(nil), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert address bits: %w", err)
	}
	addr, err := bech32.Encode(prefix, payload)
	if err != nil {
		return "", fmt.Errorf("encode bech32 address: %w", err)
	}
	return addr, nil
}
