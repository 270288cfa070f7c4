// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package events

import (
	"encoding/json"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/utxowatch/maturity"
	"github.com/btcsuite/utxowatch/utxo"
)

// Event is a published notification.  Data holds the kind specific payload
// and must not be modified by listeners.
type Event struct {
	Kind Kind `json:"kind"`
	Data any  `json:"data"`
}

// String returns the JSON form of the event.
func (e Event) String() string {
	b, err := json.Marshal(e)
	if err != nil {
		return string(e.Kind)
	}
	return string(b)
}

// ConnectInfo is the payload of connect and disconnect events.
type ConnectInfo struct {
	URL       string `json:"url,omitempty"`
	NetworkID string `json:"networkId,omitempty"`
}

// ServerInfo is the payload of server-status and utxo-index-not-enabled
// events.
type ServerInfo struct {
	URL           string `json:"url,omitempty"`
	NetworkID     string `json:"networkId"`
	ServerVersion string `json:"serverVersion"`
	IsSynced      bool   `json:"isSynced"`
	HasUtxoIndex  bool   `json:"hasUtxoIndex"`
	DAAScore      uint64 `json:"virtualDaaScore"`
}

// SyncInfo is the payload of sync-state events.
type SyncInfo struct {
	IsSynced bool `json:"isSynced"`
}

// DaaScoreInfo is the payload of daa-score-change events.
type DaaScoreInfo struct {
	CurrentDAAScore uint64 `json:"currentDaaScore"`
}

// ErrorInfo is the payload of error and utxo-proc-error events.
type ErrorInfo struct {
	Message string `json:"message"`
}

// Utxo describes a single output in utxo-added, utxo-removed, discovery,
// pending, stasis and maturity events.
type Utxo struct {
	TransactionID string         `json:"transactionId"`
	Index         uint32         `json:"index"`
	Address       string         `json:"address"`
	Amount        btcutil.Amount `json:"amount"`
	BlockDAAScore uint64         `json:"blockDaaScore"`
	IsCoinbase    bool           `json:"isCoinbase"`
	Status        string         `json:"status"`
}

// NewUtxo builds the payload of an entry with the given maturity status.
func NewUtxo(e *utxo.Entry, status maturity.Status) *Utxo {
	return &Utxo{
		TransactionID: e.Outpoint.Hash.String(),
		Index:         e.Outpoint.Index,
		Address:       e.Address,
		Amount:        e.Amount,
		BlockDAAScore: e.BlockDAAScore,
		IsCoinbase:    e.IsCoinbase,
		Status:        status.String(),
	}
}

// ReorgInfo is the payload of reorg events.
type ReorgInfo struct {
	TipDAAScore uint64 `json:"tipDaaScore"`
	Removed     int    `json:"removed"`
}

// Balance is the payload of balance events.  Address is empty for the
// aggregate balance.
type Balance struct {
	Address string       `json:"address"`
	Balance utxo.Balance `json:"balance"`
}
