package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func sealWalletBlob(t *testing.T, plaintext, password string) string {
	t.Helper()
	key := sha256.Sum256([]byte(password))
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)
	nonce := make([]byte, gcm.NonceSize())
	_, err = io.ReadFull(rand.Reader, nonce)
	require.NoError(t, err)
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed)
}

func TestOpenDecryptsAndDerivesAddress(t *testing.T) {
	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	require.NoError(t, err)

	params := &chaincfg.RegressionNetParams
	master, err := hdkeychain.NewMaster(seed, params)
	require.NoError(t, err)

	xpub, err := master.Neuter()
	require.NoError(t, err)

	blob := sealWalletBlob(t, master.String(), "correct horse")

	k, err := Open(blob, xpub.String(), "correct horse", params)
	require.NoError(t, err)
	require.NotEmpty(t, k.Address().EncodeAddress())
}

func TestOpenRejectsWrongPassword(t *testing.T) {
	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	require.NoError(t, err)
	params := &chaincfg.RegressionNetParams
	master, err := hdkeychain.NewMaster(seed, params)
	require.NoError(t, err)

	blob := sealWalletBlob(t, master.String(), "correct horse")

	_, err = Open(blob, "", "wrong password", params)
	require.Error(t, err)
}
