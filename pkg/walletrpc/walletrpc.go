// Package walletrpc wraps a bitcoind JSON-RPC connection with the small
// surface the wallet driver actually needs: UTXO listing, fee
// estimation, broadcast, and confirmation lookups.
package walletrpc

import (
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitcertify/certify/pkg/cerr"
)

// Client is a thin wrapper over rpcclient.Client, translating RPC errors
// into the package's behavioral error kinds.
type Client struct {
	rpc *rpcclient.Client
}

// Config names the bitcoind endpoint to connect to.
type Config struct {
	Host string
	User string
	Pass string
}

// New dials bitcoind over HTTP POST JSON-RPC (no websocket subscriptions
// are needed; confirmations are polled).
func New(cfg Config) (*Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	rpc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, cerr.NewFatal(fmt.Errorf("dialing bitcoind: %w", err))
	}
	return &Client{rpc: rpc}, nil
}

// Shutdown closes the RPC connection.
func (c *Client) Shutdown() { c.rpc.Shutdown() }

// ListUnspent returns spendable UTXOs for addr with at least minConf
// confirmations.
func (c *Client) ListUnspent(addr btcutil.Address, minConf int) ([]btcjson.ListUnspentResult, error) {
	results, err := c.rpc.ListUnspentMinMaxAddresses(minConf, 9999999, []btcutil.Address{addr})
	if err != nil {
		return nil, cerr.NewTransient(err)
	}
	return results, nil
}

// EstimateSmartFee returns the fee rate (BTC/kvB) bitcoind expects for
// confirmation within confTarget blocks.
func (c *Client) EstimateSmartFee(confTarget int64) (float64, error) {
	result, err := c.rpc.EstimateSmartFee(int64Param(confTarget), nil)
	if err != nil {
		return 0, cerr.NewTransient(err)
	}
	if result.Errors != nil && len(*result.Errors) > 0 {
		return 0, cerr.NewTransient(fmt.Errorf("estimatesmartfee: %v", *result.Errors))
	}
	if result.FeeRate == nil {
		return 0, cerr.NewNotReady("fee_estimate", "insufficient_data")
	}
	return *result.FeeRate, nil
}

func int64Param(v int64) int64 { return v }

// SendRawTransaction broadcasts a signed transaction. bitcoind's -26
// rejection (RPC_VERIFY_REJECTED, e.g. a fee below the relay minimum)
// comes back as a Validation error; every other failure, network errors
// included, is Transient so callers can retry or bump.
func (c *Client) SendRawTransaction(tx *wire.MsgTx) (*chainhash.Hash, error) {
	hash, err := c.rpc.SendRawTransaction(tx, false)
	if err != nil {
		if rpcErr, ok := err.(*btcjson.RPCError); ok && rpcErr.Code == btcjson.ErrRPCVerifyRejected {
			return nil, cerr.NewValidation("transaction", "rejected")
		}
		return nil, cerr.NewTransient(err)
	}
	return hash, nil
}

// rpcErrInvalidAddressOrKey is bitcoind's JSON-RPC code -5, returned by
// gettransaction when the node has never seen txHash: the broadcast never
// propagated, or the node restarted and lost it from the mempool.
const rpcErrInvalidAddressOrKey btcjson.RPCErrorCode = -5

// ErrTxNotPropagated reports that bitcoind has no record of a
// previously-broadcast transaction, the -5 condition callers must
// rebroadcast against.
var ErrTxNotPropagated = fmt.Errorf("walletrpc: transaction not known to node")

// GetTransactionConfirmations returns the number of confirmations for
// txHash, or 0 (with no error) if it's unconfirmed but known to the
// mempool. Returns ErrTxNotPropagated when bitcoind has no record of the
// transaction at all, so the caller can rebroadcast it.
func (c *Client) GetTransactionConfirmations(txHash *chainhash.Hash) (int64, string, error) {
	tx, err := c.rpc.GetTransaction(txHash)
	if err != nil {
		if rpcErr, ok := err.(*btcjson.RPCError); ok && rpcErr.Code == rpcErrInvalidAddressOrKey {
			return 0, "", ErrTxNotPropagated
		}
		return 0, "", cerr.NewTransient(err)
	}
	return tx.Confirmations, tx.BlockHash, nil
}

// GetBlockTime returns the timestamp of blockHash.
func (c *Client) GetBlockTime(blockHash string) (int64, error) {
	hash, err := chainhash.NewHashFromStr(blockHash)
	if err != nil {
		return 0, cerr.NewValidation("block_hash", "malformed")
	}
	header, err := c.rpc.GetBlockHeader(hash)
	if err != nil {
		return 0, cerr.NewTransient(err)
	}
	return header.Timestamp.Unix(), nil
}

// BlockchainInfo reports sync status.
type BlockchainInfo struct {
	Blocks        int64
	Headers       int64
	VerificationProgress float64
}

// GetBlockchainInfo reports bitcoind's sync state.
func (c *Client) GetBlockchainInfo() (BlockchainInfo, error) {
	info, err := c.rpc.GetBlockChainInfo()
	if err != nil {
		return BlockchainInfo{}, cerr.NewTransient(err)
	}
	return BlockchainInfo{
		Blocks:               int64(info.Blocks),
		Headers:              int64(info.Headers),
		VerificationProgress: info.VerificationProgress,
	}, nil
}
