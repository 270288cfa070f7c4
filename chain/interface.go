// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"

	"github.com/btcsuite/utxowatch/utxo"
)

// Transport is the node connection the UTXO processor consumes.  It is
// implemented by WSClient and may be backed by any other source able to
// deliver per address UTXO changes in causal order.
type Transport interface {
	// SubscribeAddresses requests UTXO change notifications for the
	// addresses.
	SubscribeAddresses(ctx context.Context, addrs []string) error

	// UnsubscribeAddresses stops UTXO change notifications for the
	// addresses.
	UnsubscribeAddresses(ctx context.Context, addrs []string) error

	// UtxosByAddresses returns the authoritative set of unspent outputs
	// paying to the addresses.
	UtxosByAddresses(ctx context.Context, addrs []string) ([]*utxo.Entry,
		error)

	// ServerInfo describes the node and its current virtual DAA score.
	ServerInfo(ctx context.Context) (*ServerInfo, error)

	// Notifications returns the channel on which every notification type
	// below is delivered, in the order the node sent them.
	Notifications() <-chan interface{}

	// IsConnected returns whether the connection to the node is currently
	// established.
	IsConnected() bool
}

// ServerInfo describes a node.
type ServerInfo struct {
	ServerVersion   string
	NetworkID       string
	HasUtxoIndex    bool
	IsSynced        bool
	VirtualDAAScore uint64
}

// Notification types.  These are delivered through the channel returned by
// Notifications and handled by a single consumer.
type (
	// UtxoAdded is a notification for a new unspent output paying to a
	// subscribed address.
	UtxoAdded struct {
		Entry *utxo.Entry
	}

	// UtxoRemoved is a notification for an output of a subscribed
	// address that was spent or orphaned.  Only the outpoint and address
	// of the entry are guaranteed to be set.
	UtxoRemoved struct {
		Entry *utxo.Entry
	}

	// ReorgOccurred is a notification that blocks were removed from the
	// selected chain.  Outputs accepted above TipDAAScore are no longer
	// part of the chain.
	ReorgOccurred struct {
		TipDAAScore uint64
	}

	// DaaScoreChanged is a notification that the virtual DAA score of the
	// node advanced.
	DaaScoreChanged struct {
		DAAScore uint64
	}

	// ConnectionStateChanged is a notification for when the connection to
	// the node is lost or reestablished.
	ConnectionStateChanged struct {
		Connected bool
	}
)
