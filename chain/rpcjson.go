// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/utxowatch/utxo"
)

// Methods and notifications of the node's JSON wRPC endpoint.
const (
	methodSubscribeUtxosChanged           = "subscribeUtxosChanged"
	methodUnsubscribeUtxosChanged         = "unsubscribeUtxosChanged"
	methodSubscribeVirtualDaaScoreChanged = "subscribeVirtualDaaScoreChanged"
	methodSubscribeVirtualChainChanged    = "subscribeVirtualChainChanged"
	methodGetUtxosByAddresses             = "getUtxosByAddresses"
	methodGetServerInfo                   = "getServerInfo"

	ntfnUtxosChanged           = "utxosChangedNotification"
	ntfnVirtualDaaScoreChanged = "virtualDaaScoreChangedNotification"
	ntfnVirtualChainChanged    = "virtualChainChangedNotification"
)

// request is an outgoing call.
type request struct {
	ID     uint64      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// message is any incoming frame.  Responses carry the id of the request they
// answer, notifications carry a method and no id.
type message struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is an error reported by the node.
type RPCError struct {
	Method  string `json:"-"`
	Message string `json:"message"`
}

// Error satisfies the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

type addressesParams struct {
	Addresses []string `json:"addresses"`
}

type rpcOutpoint struct {
	TransactionID string `json:"transactionId"`
	Index         uint32 `json:"index"`
}

type rpcUtxoEntry struct {
	Amount          uint64 `json:"amount"`
	ScriptPublicKey string `json:"scriptPublicKey"`
	BlockDAAScore   uint64 `json:"blockDaaScore"`
	IsCoinbase      bool   `json:"isCoinbase"`
}

// rpcUtxo is an output as encoded by the node.
type rpcUtxo struct {
	Address   string       `json:"address"`
	Outpoint  rpcOutpoint  `json:"outpoint"`
	UtxoEntry rpcUtxoEntry `json:"utxoEntry"`
}

// toEntry converts the node encoding to an index entry.
func (u *rpcUtxo) toEntry() (*utxo.Entry, error) {
	hash, err := chainhash.NewHashFromStr(u.Outpoint.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction id %q: %w",
			u.Outpoint.TransactionID, err)
	}

	if u.UtxoEntry.Amount > math.MaxInt64 {
		return nil, fmt.Errorf("amount %d of %v:%d out of range",
			u.UtxoEntry.Amount, hash, u.Outpoint.Index)
	}

	var script []byte
	if u.UtxoEntry.ScriptPublicKey != "" {
		script, err = hex.DecodeString(u.UtxoEntry.ScriptPublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid script of %v:%d: %w",
				hash, u.Outpoint.Index, err)
		}
	}

	return &utxo.Entry{
		Outpoint:        *wire.NewOutPoint(hash, u.Outpoint.Index),
		Address:         u.Address,
		Amount:          btcutil.Amount(u.UtxoEntry.Amount),
		ScriptPublicKey: script,
		BlockDAAScore:   u.UtxoEntry.BlockDAAScore,
		IsCoinbase:      u.UtxoEntry.IsCoinbase,
	}, nil
}

// fromEntry converts an index entry to the node encoding.
func fromEntry(e *utxo.Entry) rpcUtxo {
	return rpcUtxo{
		Address: e.Address,
		Outpoint: rpcOutpoint{
			TransactionID: e.Outpoint.Hash.String(),
			Index:         e.Outpoint.Index,
		},
		UtxoEntry: rpcUtxoEntry{
			Amount:          uint64(e.Amount),
			ScriptPublicKey: hex.EncodeToString(e.ScriptPublicKey),
			BlockDAAScore:   e.BlockDAAScore,
			IsCoinbase:      e.IsCoinbase,
		},
	}
}

type getUtxosByAddressesResult struct {
	Entries []rpcUtxo `json:"entries"`
}

type getServerInfoResult struct {
	RPCAPIVersion   uint32 `json:"rpcApiVersion"`
	ServerVersion   string `json:"serverVersion"`
	NetworkID       string `json:"networkId"`
	HasUtxoIndex    bool   `json:"hasUtxoIndex"`
	IsSynced        bool   `json:"isSynced"`
	VirtualDAAScore uint64 `json:"virtualDaaScore"`
}

type utxosChangedParams struct {
	Added   []rpcUtxo `json:"added"`
	Removed []rpcUtxo `json:"removed"`
}

type virtualDaaScoreChangedParams struct {
	VirtualDAAScore uint64 `json:"virtualDaaScore"`
}

// virtualChainChangedParams announces selected chain changes.  A non empty
// removed set means the chain was reorganized down to the given DAA score.
type virtualChainChangedParams struct {
	RemovedChainBlockHashes []string `json:"removedChainBlockHashes"`
	AddedChainBlockHashes   []string `json:"addedChainBlockHashes"`
	TipDAAScore             uint64   `json:"tipDaaScore"`
}

// decodeNotification converts a notification frame into the notifications it
// carries, in the order they must be applied.  Removals of a UTXO change set
// are applied before its additions.
func decodeNotification(method string, params json.RawMessage) ([]interface{},
	error) {

	switch method {
	case ntfnUtxosChanged:
		var p utxosChangedParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}

		ntfns := make([]interface{}, 0, len(p.Added)+len(p.Removed))
		for i := range p.Removed {
			entry, err := p.Removed[i].toEntry()
			if err != nil {
				return nil, err
			}
			ntfns = append(ntfns, UtxoRemoved{Entry: entry})
		}
		for i := range p.Added {
			entry, err := p.Added[i].toEntry()
			if err != nil {
				return nil, err
			}
			ntfns = append(ntfns, UtxoAdded{Entry: entry})
		}
		return ntfns, nil

	case ntfnVirtualDaaScoreChanged:
		var p virtualDaaScoreChangedParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return []interface{}{DaaScoreChanged{DAAScore: p.VirtualDAAScore}},
			nil

	case ntfnVirtualChainChanged:
		var p virtualChainChangedParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		if len(p.RemovedChainBlockHashes) == 0 {
			return nil, nil
		}
		return []interface{}{ReorgOccurred{TipDAAScore: p.TipDAAScore}},
			nil

	default:
		return nil, fmt.Errorf("unknown notification %q", method)
	}
}
