// Package wallet builds, signs, and tracks the OP_RETURN transactions
// that carry bulletin payload hashes onto Bitcoin. It holds the single
// signing keypair described in pkg/wallet's Keyring; transactions go
// through BuildTransaction and Process, and Keyring.PrivateKey hands the
// same key to proof signing and storage encryption.
package wallet

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitcertify/certify/pkg/cerr"
)

// UTXO is the subset of a listunspent entry BuildTransaction needs.
type UTXO struct {
	TxID         string
	Vout         uint32
	Amount       btcutil.Amount
	PkScript     []byte
}

// Virtual-size estimate used for fee sizing: baseVSize of overhead,
// perInputVSize (~68 vbytes) per P2WPKH input, changeVSize (~31 vbytes)
// for the P2WPKH change output, and opReturnVSize (12 vbytes plus the
// payload length) for the OP_RETURN output.
const (
	baseVSize       = 11
	perInputVSize   = 68
	changeVSize     = 31
)

func opReturnVSize(payload []byte) int64 {
	return int64(12 + len(payload))
}

// SatsPerByte converts bitcoind's BTC/kvB fee estimate into sats/vbyte.
func SatsPerByte(btcPerKvB float64) float64 {
	return btcPerKvB * 1e8 / 1000
}

// selectUTXOs greedily picks the fewest largest-first UTXOs covering
// target (an estimated fee amount in satoshis), recomputing the estimate
// as inputs are added.
func selectUTXOs(utxos []UTXO, satsPerByte float64, payload []byte) ([]UTXO, int64, error) {
	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Amount > sorted[j].Amount })

	var chosen []UTXO
	var total int64
	for _, u := range sorted {
		chosen = append(chosen, u)
		total += int64(u.Amount)

		vsize := baseVSize + int64(len(chosen))*perInputVSize + changeVSize + opReturnVSize(payload)
		fee := int64(float64(vsize) * satsPerByte)
		if total >= fee {
			return chosen, fee, nil
		}
	}
	return nil, 0, cerr.NewNotReady("wallet", "insufficient_funds")
}

// BuildTransaction assembles and signs an OP_RETURN transaction spending
// from utxos, paying the fee at satsPerByte, and returning any leftover
// to the keyring's own address. utxos must all belong to k.Address().
func (k *Keyring) BuildTransaction(utxos []UTXO, payload []byte, satsPerByte float64) (*wire.MsgTx, error) {
	if len(payload) == 0 || len(payload) > 80 {
		return nil, cerr.NewValidation("payload", "invalid_length")
	}

	chosen, fee, err := selectUTXOs(utxos, satsPerByte, payload)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(chosen))
	var total int64
	for _, u := range chosen {
		hash, err := chainHashFromTxID(u.TxID)
		if err != nil {
			return nil, cerr.NewValidation("utxo", "bad_txid")
		}
		op := wire.OutPoint{Hash: *hash, Index: u.Vout}
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
		prevOuts[op] = wire.NewTxOut(int64(u.Amount), u.PkScript)
		total += int64(u.Amount)
	}

	opReturnScript, err := txscript.NullDataScript(payload)
	if err != nil {
		return nil, cerr.NewFatal(err)
	}
	tx.AddTxOut(wire.NewTxOut(0, opReturnScript))

	change := total - fee
	if change > 0 {
		changeScript, err := txscript.PayToAddrScript(k.address)
		if err != nil {
			return nil, cerr.NewFatal(err)
		}
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	}

	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	pkScript, err := txscript.PayToAddrScript(k.address)
	if err != nil {
		return nil, cerr.NewFatal(err)
	}

	for i, in := range tx.TxIn {
		prevOut := prevOuts[in.PreviousOutPoint]
		sig, err := txscript.RawTxInWitnessSignature(
			tx, sigHashes, i, prevOut.Value, pkScript, txscript.SigHashAll, k.priv,
		)
		if err != nil {
			return nil, cerr.NewFatal(fmt.Errorf("signing input %d: %w", i, err))
		}
		tx.TxIn[i].Witness = wire.TxWitness{sig, k.priv.PubKey().SerializeCompressed()}
	}

	return tx, nil
}
