// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package processor

import "errors"

var (
	// ErrTransportUnavailable is returned by Start when the node cannot be
	// reached or cannot serve the initial synchronization.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrSubscriptionFailed is returned when the node refuses an address
	// subscription.
	ErrSubscriptionFailed = errors.New("address subscription failed")

	// ErrProcessorStopped is returned for operations on a processor that
	// was stopped.  A stopped processor cannot be restarted.
	ErrProcessorStopped = errors.New("processor stopped")

	// ErrNetworkIDMissing is returned by Start when no network id was
	// configured.
	ErrNetworkIDMissing = errors.New("network id missing")

	// ErrUtxoIndexNotEnabled is returned by Start, wrapped together with
	// ErrTransportUnavailable, when the node runs without a UTXO index.
	ErrUtxoIndexNotEnabled = errors.New("node utxo index not enabled")

	// ErrNetworkMismatch is returned by Start, wrapped together with
	// ErrTransportUnavailable, when the node serves another network.
	ErrNetworkMismatch = errors.New("node network mismatch")
)
