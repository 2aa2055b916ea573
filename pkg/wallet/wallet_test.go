package wallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPrivateKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv
}

func testAddress(t *testing.T, priv *btcec.PrivateKey, params *chaincfg.Params) btcutil.Address {
	t.Helper()
	pkHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
	require.NoError(t, err)
	return addr
}

func TestSatsPerByteConversion(t *testing.T) {
	assert.InDelta(t, 10.0, SatsPerByte(0.0001), 0.0001)
}

func TestBuildTransactionRejectsOversizedPayload(t *testing.T) {
	k := testKeyring(t)
	_, err := k.BuildTransaction(nil, make([]byte, 81), 10)
	require.Error(t, err)
}

func TestBuildTransactionRejectsInsufficientFunds(t *testing.T) {
	k := testKeyring(t)
	_, err := k.BuildTransaction(nil, []byte("deadbeef"), 10)
	require.Error(t, err)
}

func testKeyring(t *testing.T) *Keyring {
	t.Helper()
	// Deterministic regtest keyring built directly, bypassing the
	// encrypted-blob loading path exercised by keyring_test.go.
	params := &chaincfg.RegressionNetParams
	priv := testPrivateKey(t)
	return &Keyring{params: params, priv: priv, address: testAddress(t, priv, params)}
}
