package wallet

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// chainHashFromTxID parses a big-endian hex txid (as returned by
// listunspent) into the internal little-endian chainhash.Hash.
func chainHashFromTxID(txid string) (*chainhash.Hash, error) {
	return chainhash.NewHashFromStr(txid)
}
