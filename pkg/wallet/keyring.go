package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bitcertify/certify/pkg/cerr"
)

// Keyring holds the single signing keypair the service uses for every
// OP_RETURN bulletin transaction and SignedPayload it issues internally.
// Per spec.md §9, the wallet is single-address: one BIP-32 account node,
// external index 0.
type Keyring struct {
	params  *chaincfg.Params
	priv    *btcec.PrivateKey
	address btcutil.Address
}

// Open decrypts encryptedHex (AES-256-GCM, same scheme as pkg/store) with
// password, derives the account's external/0 child from the resulting
// BIP-32 extended private key, and verifies it matches xpub.
func Open(encryptedHex, xpub, password string, params *chaincfg.Params) (*Keyring, error) {
	sealed, err := hex.DecodeString(encryptedHex)
	if err != nil {
		return nil, cerr.NewFatal(fmt.Errorf("wallet blob is not valid hex: %w", err))
	}

	key := sha256.Sum256([]byte(password))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, cerr.NewFatal(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, cerr.NewFatal(err)
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, cerr.NewFatal(fmt.Errorf("wallet blob too short"))
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, cerr.NewFatal(fmt.Errorf("wallet password incorrect or blob corrupt: %w", err))
	}

	extKey, err := hdkeychain.NewKeyFromString(string(plain))
	if err != nil {
		return nil, cerr.NewFatal(fmt.Errorf("parsing extended private key: %w", err))
	}

	externalBranch, err := extKey.Derive(0)
	if err != nil {
		return nil, cerr.NewFatal(err)
	}
	child, err := externalBranch.Derive(0)
	if err != nil {
		return nil, cerr.NewFatal(err)
	}

	priv, err := child.ECPrivKey()
	if err != nil {
		return nil, cerr.NewFatal(err)
	}

	expectedPub, err := extKey.Neuter()
	if err != nil {
		return nil, cerr.NewFatal(err)
	}
	if xpub != "" && expectedPub.String() != xpub {
		return nil, cerr.NewFatal(fmt.Errorf("decrypted wallet does not match configured WALLET_XPUB"))
	}

	pkHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
	if err != nil {
		return nil, cerr.NewFatal(err)
	}

	return &Keyring{params: params, priv: priv, address: addr}, nil
}

// PrivateKey exposes the signing key for txscript witness construction
// and for pkg/payload.Sign.
func (k *Keyring) PrivateKey() *btcec.PrivateKey { return k.priv }

// Address returns the service's single P2WPKH address.
func (k *Keyring) Address() btcutil.Address { return k.address }

// Params returns the network parameters the keyring was opened with.
func (k *Keyring) Params() *chaincfg.Params { return k.params }
