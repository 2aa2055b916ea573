// Package payload implements the sole authentication primitive used
// throughout the certification pipeline: a SignedPayload proves that a
// byte string originated from the holder of the private key behind a
// given address.
package payload

import (
	"crypto/sha256"
	"encoding/base64"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bitcertify/certify/pkg/cerr"
)

// SignedPayload is a value, never persisted directly: bytes, the address
// that signed them, and a compact recoverable signature over those bytes.
type SignedPayload struct {
	Payload   []byte
	Signer    string
	Signature []byte // 65-byte compact signature (header byte + r + s)
}

// messageHash hashes payload in the style of Bitcoin message signing: double
// SHA-256 of a fixed magic prefix concatenated with the payload. The prefix
// is this service's own and no length prefixes are added, so the hash is
// not the one Bitcoin Core's signmessage produces.
func messageHash(data []byte) []byte {
	const magic = "Certify Signed Message:\n"
	first := sha256.Sum256(append([]byte(magic), data...))
	second := sha256.Sum256(first[:])
	return second[:]
}

// Verify recovers the public key from sig.Signature over sig.Payload and
// checks that the resulting address equals sig.Signer. params selects which
// network's address encoding to check against (mainnet/testnet/regtest).
func Verify(sig SignedPayload, params *chaincfg.Params) error {
	if len(sig.Signature) != 65 {
		return cerr.NewValidation("signature", "wrong_length")
	}

	hash := messageHash(sig.Payload)
	pubKey, _, err := ecdsa.RecoverCompact(sig.Signature, hash)
	if err != nil {
		return cerr.NewValidation("signature", "unrecoverable")
	}

	addr, err := addressForPubKey(pubKey, params)
	if err != nil {
		return cerr.NewValidation("signature", "bad_pubkey")
	}

	if addr != sig.Signer {
		return cerr.NewValidation("signature", "wrong_signature")
	}
	return nil
}

// Sign produces a SignedPayload for data using priv, for internal uses
// such as signing rendered proof HTML or issuance notifications. The
// compressed public key's P2WPKH address becomes the signer.
func Sign(priv *btcec.PrivateKey, data []byte, params *chaincfg.Params) (SignedPayload, error) {
	hash := messageHash(data)
	sig := ecdsa.SignCompact(priv, hash, true)

	addr, err := addressForPubKey(priv.PubKey(), params)
	if err != nil {
		return SignedPayload{}, err
	}

	return SignedPayload{
		Payload:   data,
		Signer:    addr,
		Signature: sig,
	}, nil
}

// addressForPubKey derives the P2WPKH (bech32) address for a public key,
// matching the single address the wallet keyring derives per spec.md §4.4.
func addressForPubKey(pubKey *btcec.PublicKey, params *chaincfg.Params) (string, error) {
	pkHash := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// EncodeSignature base64-encodes a compact signature for wire transport
// (the Authentication header carries a JSON-serialized SignedPayload).
func EncodeSignature(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}
