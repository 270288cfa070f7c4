// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package processor

import (
	"errors"
	"time"

	"github.com/btcsuite/utxowatch/chain"
	"github.com/btcsuite/utxowatch/events"
	"github.com/btcsuite/utxowatch/maturity"
	"github.com/btcsuite/utxowatch/netparams"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultRetryInterval is the interval between resync attempts while
	// reconnecting.
	DefaultRetryInterval = 5 * time.Second

	// DefaultRequestTimeout bounds the transport calls made while
	// stopping and resyncing.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultFetchBatchSize is the number of addresses queried per UTXO
	// request while synchronizing.
	DefaultFetchBatchSize = 100

	// maxConcurrentFetches caps the UTXO requests in flight while
	// synchronizing.
	maxConcurrentFetches = 4
)

// Config holds the dependencies and tunables of a Processor.
type Config struct {
	// Transport is the node connection.  It is required.
	Transport chain.Transport

	// NetworkID is the network whose maturity policy is applied.  It may
	// be set later with SetNetworkID but must be known before Start.
	NetworkID fn.Option[netparams.NetworkID]

	// Policy decides maturity.  When nil maturity.Default is used, so the
	// package level maturity setters apply.
	Policy *maturity.Policy

	// Bus delivers events.  When nil a new bus is created and sealed once
	// the processor stops.
	Bus *events.Bus

	// URL describes the node in connect and disconnect events.
	URL string

	// RetryInterval is the interval between resync attempts while
	// reconnecting.  It is ignored when RetryTicker is set.
	RetryInterval time.Duration

	// RetryTicker drives resync attempts while reconnecting.  When nil a
	// ticker with RetryInterval is created.
	RetryTicker ticker.Ticker

	// RequestTimeout bounds the transport calls made while stopping and
	// resyncing.
	RequestTimeout time.Duration

	// FetchBatchSize is the number of addresses queried per UTXO request
	// while synchronizing.
	FetchBatchSize int

	// Registerer registers the processor metrics when set.
	Registerer prometheus.Registerer
}

// validate checks the required config options are set.
func (c *Config) validate() error {
	if c == nil {
		return errors.New("missing processor config")
	}

	if c.Transport == nil {
		return errors.New("missing transport")
	}

	if c.RetryInterval < 0 || c.RequestTimeout < 0 {
		return errors.New("intervals must be positive")
	}

	if c.FetchBatchSize < 0 {
		return errors.New("fetch batch size must be positive")
	}

	return nil
}
