package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitcertify/certify/pkg/bulletin"
	"github.com/bitcertify/certify/pkg/cerr"
	"github.com/bitcertify/certify/pkg/walletrpc"
)

// RPC is the subset of walletrpc.Client that Process needs; an interface
// so tests can fake bitcoind.
type RPC interface {
	ListUnspent(addr btcutil.Address, minConf int) ([]btcjson.ListUnspentResult, error)
	EstimateSmartFee(confTarget int64) (float64, error)
	SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error)
	GetTransactionConfirmations(txHash *chainhash.Hash) (int64, string, error)
	GetBlockTime(blockHash string) (int64, error)
}

// Process advances the current bulletin exactly one step, matching
// spec.md §4.4's single-writer rule: draft→propose, proposed→submit,
// submitted→publish or bump. It is meant to be called from the worker
// loop's bulletin-advance tick.
func Process(ctx context.Context, svc *bulletin.Service, rpc RPC, k *Keyring, logger *log.Logger) error {
	draft, err := svc.CurrentDraft(ctx)
	if err != nil {
		return fmt.Errorf("loading current bulletin: %w", err)
	}

	rec := draft.Record()
	switch rec.Status {
	case bulletin.StatusDraft:
		return processDraft(ctx, svc, draft, logger)
	case bulletin.StatusProposed:
		proposed, err := bulletin.AsProposed(rec)
		if err != nil {
			return err
		}
		return processProposed(ctx, svc, rpc, k, proposed, logger)
	case bulletin.StatusSubmitted:
		submitted, err := bulletin.AsSubmitted(rec)
		if err != nil {
			return err
		}
		return processSubmitted(ctx, svc, rpc, k, submitted, logger)
	default:
		return nil
	}
}

func processDraft(ctx context.Context, svc *bulletin.Service, d bulletin.Draft, logger *log.Logger) error {
	if !svc.ReadyToPropose(d) {
		return nil
	}
	proposed, err := svc.Propose(ctx, d)
	if err != nil {
		if _, ok := err.(*cerr.Validation); ok {
			return nil // empty payload: nothing to commit yet
		}
		return err
	}
	logger.Printf("bulletin %d proposed, payload_hash=%s", proposed.Record().ID, proposed.Record().PayloadHash)
	return nil
}

func processProposed(ctx context.Context, svc *bulletin.Service, rpc RPC, k *Keyring, p bulletin.Proposed, logger *log.Logger) error {
	payload, err := hex.DecodeString(p.Record().PayloadHash)
	if err != nil {
		return cerr.NewFatal(fmt.Errorf("payload hash is not valid hex: %w", err))
	}

	utxos, err := listUTXOs(rpc, k)
	if err != nil {
		return err
	}

	feeBTCPerKvB, err := rpc.EstimateSmartFee(6)
	if err != nil {
		return err
	}

	tx, err := k.BuildTransaction(utxos, payload, SatsPerByte(feeBTCPerKvB))
	if err != nil {
		return err
	}

	hash, err := rpc.SendRawTransaction(tx)
	if err != nil {
		return err
	}

	_, err = svc.Submit(ctx, p, rawTxHex(tx), hash.String())
	if err != nil {
		return err
	}
	logger.Printf("bulletin %d submitted, tx=%s", p.Record().ID, hash.String())
	return nil
}

func processSubmitted(ctx context.Context, svc *bulletin.Service, rpc RPC, k *Keyring, sub bulletin.Submitted, logger *log.Logger) error {
	txHash, err := chainhash.NewHashFromStr(sub.Record().TxHash)
	if err != nil {
		return cerr.NewFatal(err)
	}

	confirmations, blockHash, err := rpc.GetTransactionConfirmations(txHash)
	if err != nil {
		if err == walletrpc.ErrTxNotPropagated {
			return rebroadcastSubmitted(rpc, sub, logger)
		}
		return err
	}

	if confirmations >= 2 {
		blockTimeUnix, err := rpc.GetBlockTime(blockHash)
		if err != nil {
			return err
		}
		pub, err := svc.Publish(ctx, sub, blockHash, time.Unix(blockTimeUnix, 0), int(confirmations))
		if err != nil {
			return err
		}
		logger.Printf("bulletin %d published in block %s", pub.Record().ID, blockHash)
		return nil
	}

	if svc.NeedsBump(sub) {
		return bumpSubmitted(ctx, svc, rpc, k, sub, logger)
	}
	return nil
}

// rebroadcastSubmitted resends the bulletin's already-signed raw
// transaction, per spec.md's requirement that a -5 ("no information
// about transaction") response from gettransaction trigger a rebroadcast
// rather than being treated as an ordinary transient RPC failure: the
// node lost or never received the tx, but the bulletin's payload and
// signature are unchanged, so sending the same bytes again is safe.
func rebroadcastSubmitted(rpc RPC, sub bulletin.Submitted, logger *log.Logger) error {
	tx, err := decodeRawTx(sub.Record().RawTx)
	if err != nil {
		return cerr.NewFatal(fmt.Errorf("decoding stored raw tx: %w", err))
	}
	hash, err := rpc.SendRawTransaction(tx)
	if err != nil {
		return err
	}
	logger.Printf("bulletin %d rebroadcast, tx=%s", sub.Record().ID, hash.String())
	return nil
}

func decodeRawTx(rawTxHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(rawTxHex)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

func bumpSubmitted(ctx context.Context, svc *bulletin.Service, rpc RPC, k *Keyring, sub bulletin.Submitted, logger *log.Logger) error {
	feeBTCPerKvB, err := rpc.EstimateSmartFee(2)
	if err != nil {
		return err
	}
	bumpRate := bulletin.NextBumpFeeRate(sub, SatsPerByte(feeBTCPerKvB))

	utxos, err := listUTXOs(rpc, k)
	if err != nil {
		return err
	}
	payload, err := hex.DecodeString(sub.Record().PayloadHash)
	if err != nil {
		return cerr.NewFatal(err)
	}
	tx, err := k.BuildTransaction(utxos, payload, bumpRate)
	if err != nil {
		return err
	}
	hash, err := rpc.SendRawTransaction(tx)
	if err != nil {
		return err
	}
	if _, err := svc.Bump(ctx, sub, rawTxHex(tx), hash.String()); err != nil {
		return err
	}
	logger.Printf("bulletin %d fee-bumped, tx=%s", sub.Record().ID, hash.String())
	return nil
}

func listUTXOs(rpc RPC, k *Keyring) ([]UTXO, error) {
	results, err := rpc.ListUnspent(k.Address(), 1)
	if err != nil {
		return nil, err
	}

	utxos := make([]UTXO, 0, len(results))
	for _, r := range results {
		amount, err := btcutil.NewAmount(r.Amount)
		if err != nil {
			continue
		}
		pkScript, err := hex.DecodeString(r.ScriptPubKey)
		if err != nil {
			continue
		}
		utxos = append(utxos, UTXO{
			TxID:     r.TxID,
			Vout:     r.Vout,
			Amount:   amount,
			PkScript: pkScript,
		})
	}
	if len(utxos) == 0 {
		return nil, cerr.NewNotReady("wallet", "no_utxos")
	}
	return utxos, nil
}

func rawTxHex(tx *wire.MsgTx) string {
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)
	return hex.EncodeToString(buf.Bytes())
}
