// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxo

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// Entry houses details about an individual unspent output paying to a
// tracked address: the DAA score of the block that accepted the transaction,
// whether it was a coinbase, and how much it pays.
//
// Entries are immutable once created.  Their maturity is derived from the
// current tip and policy and is never stored.
type Entry struct {
	Outpoint        wire.OutPoint
	Address         string
	Amount          btcutil.Amount
	ScriptPublicKey []byte
	BlockDAAScore   uint64
	IsCoinbase      bool
}

// DAAScore returns the DAA score of the block that included the output.
func (e *Entry) DAAScore() uint64 {
	return e.BlockDAAScore
}

// Coinbase returns whether the output belongs to a coinbase transaction.
func (e *Entry) Coinbase() bool {
	return e.IsCoinbase
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}

	clone := *e
	if e.ScriptPublicKey != nil {
		clone.ScriptPublicKey = make([]byte, len(e.ScriptPublicKey))
		copy(clone.ScriptPublicKey, e.ScriptPublicKey)
	}
	return &clone
}

// Equal returns whether entry equals other.
func (e *Entry) Equal(other *Entry) bool {
	if e == nil || other == nil {
		return e == other
	}

	return e.Outpoint == other.Outpoint &&
		e.Address == other.Address &&
		e.Amount == other.Amount &&
		e.BlockDAAScore == other.BlockDAAScore &&
		e.IsCoinbase == other.IsCoinbase &&
		bytes.Equal(e.ScriptPublicKey, other.ScriptPublicKey)
}
