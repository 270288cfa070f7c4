// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package processor tracks the unspent outputs of a set of addresses against
// a live node and republishes every change as an event.
//
// A Processor owns a utxo.Index and a utxo.Tracker.  Once started, a single
// handler goroutine applies node notifications to the index in delivery
// order, recomputes the balances of the affected addresses and publishes the
// resulting events on an events.Bus.  Queries read the index and tracker
// directly and never wait for the handler.  Listeners run on the handler
// goroutine, so they must not call Start, Stop or the address tracking
// methods synchronously.
//
// When the node connection drops the processor keeps its index, discards
// UTXO notifications and periodically attempts a resync.  A resync diffs the
// authoritative UTXO set of the node against the retained index, so only real
// differences are published.
package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/utxowatch/chain"
	"github.com/btcsuite/utxowatch/events"
	"github.com/btcsuite/utxowatch/maturity"
	"github.com/btcsuite/utxowatch/netparams"
	"github.com/btcsuite/utxowatch/utxo"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/looplab/fsm"
)

// command is a unit of work run on the handler goroutine.
type command struct {
	ctx  context.Context
	f    func(ctx context.Context) error
	done chan error
}

// Processor is the UTXO processor of a wallet.
type Processor struct {
	cfg       Config
	transport chain.Transport
	policy    *maturity.Policy
	bus       *events.Bus
	ownsBus   bool
	index     *utxo.Index
	tracker   *utxo.Tracker
	lifecycle *fsm.FSM
	metrics   *metrics
	retry     ticker.Ticker

	netMtx  sync.RWMutex
	network fn.Option[netparams.NetworkID]

	// startMtx serializes Start, Stop and every mutation made while the
	// handler is not running.
	startMtx sync.Mutex
	running  bool
	cancel   context.CancelFunc

	cmds chan command
	quit chan struct{}
	wg   sync.WaitGroup
}

// New returns an idle processor.
func New(cfg *Config) (*Processor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Processor{
		cfg:       *cfg,
		transport: cfg.Transport,
		policy:    cfg.Policy,
		bus:       cfg.Bus,
		index:     utxo.NewIndex(),
		lifecycle: newLifecycle(),
		retry:     cfg.RetryTicker,
		network:   cfg.NetworkID,
		cmds:      make(chan command),
		quit:      make(chan struct{}),
	}
	if p.policy == nil {
		p.policy = maturity.Default
	}
	if p.bus == nil {
		p.bus = events.NewBus()
		p.ownsBus = true
	}
	if p.cfg.RetryInterval == 0 {
		p.cfg.RetryInterval = DefaultRetryInterval
	}
	if p.cfg.RequestTimeout == 0 {
		p.cfg.RequestTimeout = DefaultRequestTimeout
	}
	if p.cfg.FetchBatchSize == 0 {
		p.cfg.FetchBatchSize = DefaultFetchBatchSize
	}
	if p.retry == nil {
		p.retry = ticker.New(p.cfg.RetryInterval)
	}

	metrics, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, err
	}
	p.metrics = metrics

	net := cfg.NetworkID.UnwrapOr(netparams.MainNetParams.ID)
	p.tracker = utxo.NewTracker(p.index, p.policy, net)

	return p, nil
}

// Bus returns the event bus of the processor.
func (p *Processor) Bus() *events.Bus {
	return p.bus
}

// Start connects the processor to the node, subscribes every tracked
// address, synchronizes the index with the node and launches the handler.
// It is idempotent: starting a running processor does nothing.  When any
// step fails the processor returns to idle and the error wraps
// ErrTransportUnavailable or ErrSubscriptionFailed.
func (p *Processor) Start(ctx context.Context) error {
	p.startMtx.Lock()
	defer p.startMtx.Unlock()

	switch {
	case p.State() == StateStopped:
		return ErrProcessorStopped
	case p.running:
		return nil
	}

	net, err := p.NetworkID().UnwrapOrErr(ErrNetworkIDMissing)
	if err != nil {
		return err
	}

	log.Infof("Starting UTXO processor on %v", net)

	if err := p.transition(eventConnect); err != nil {
		return err
	}

	tip, err := p.connect(ctx, net)
	if err != nil {
		p.failStart(err, nil)
		return err
	}

	if err := p.transition(eventSync); err != nil {
		p.failStart(err, nil)
		return err
	}

	addrs := p.index.Addresses()
	if err := p.subscribe(ctx, addrs); err != nil {
		// The node may have accepted part of the request.
		p.failStart(err, addrs)
		return err
	}

	p.tracker.SetNetwork(net)
	if err := p.resync(ctx, tip, true); err != nil {
		err = fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
		p.failStart(err, p.index.Addresses())
		return err
	}

	if err := p.transition(eventSynced); err != nil {
		p.failStart(err, p.index.Addresses())
		return err
	}
	p.retry.Pause()

	p.publish(events.UtxoProcStart, struct{}{})
	p.publish(events.Connect, p.connectInfo(net))

	loopCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go p.handler(loopCtx)

	log.Infof("UTXO processor active, tracking %d addresses with %d "+
		"outputs at DAA score %d", len(p.index.Addresses()),
		p.index.Len(), tip)

	return nil
}

// failStart returns a processor whose start failed to idle after a best
// effort unsubscription of the given addresses.
func (p *Processor) failStart(err error, subscribed []string) {
	log.Errorf("Unable to start UTXO processor: %v", err)

	p.unsubscribe(subscribed)

	if terr := p.transition(eventFail); terr != nil {
		log.Errorf("Unable to reset processor state: %v", terr)
	}
	p.publish(events.UtxoProcError, &events.ErrorInfo{Message: err.Error()})
}

// connect verifies the node is reachable, serves the configured network and
// has a UTXO index.  It returns the virtual DAA score of the node.
func (p *Processor) connect(ctx context.Context,
	net netparams.NetworkID) (uint64, error) {

	if !p.transport.IsConnected() {
		return 0, ErrTransportUnavailable
	}

	info, err := p.transport.ServerInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	status := &events.ServerInfo{
		URL:           p.cfg.URL,
		NetworkID:     info.NetworkID,
		ServerVersion: info.ServerVersion,
		IsSynced:      info.IsSynced,
		HasUtxoIndex:  info.HasUtxoIndex,
		DAAScore:      info.VirtualDAAScore,
	}

	if !info.HasUtxoIndex {
		p.publish(events.UtxoIndexNotEnabled, status)
		return 0, fmt.Errorf("%w: %w", ErrTransportUnavailable,
			ErrUtxoIndexNotEnabled)
	}

	if info.NetworkID != "" {
		nodeNet, err := netparams.ParseNetworkID(info.NetworkID)
		if err == nil && nodeNet != net {
			return 0, fmt.Errorf("%w: %w: node serves %v",
				ErrTransportUnavailable, ErrNetworkMismatch,
				nodeNet)
		}
	}

	p.publish(events.ServerStatus, status)
	p.publish(events.SyncState, &events.SyncInfo{IsSynced: info.IsSynced})

	return info.VirtualDAAScore, nil
}

// subscribe requests notifications for the addresses.
func (p *Processor) subscribe(ctx context.Context, addrs []string) error {
	if len(addrs) == 0 {
		return nil
	}

	if err := p.transport.SubscribeAddresses(ctx, addrs); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscriptionFailed, err)
	}
	return nil
}

// unsubscribe stops notifications for the addresses.  Failures are only
// logged since the node drops subscriptions with the connection anyway.
func (p *Processor) unsubscribe(addrs []string) {
	if len(addrs) == 0 || !p.transport.IsConnected() {
		return
	}

	ctx, cancel := context.WithTimeout(
		context.Background(), p.cfg.RequestTimeout,
	)
	defer cancel()

	err := p.transport.UnsubscribeAddresses(ctx, addrs)
	if err != nil {
		log.Warnf("Unable to unsubscribe %d addresses: %v", len(addrs),
			err)
	}
}

// Stop shuts down the handler, unsubscribes every tracked address, clears
// the index and publishes a final utxo-proc-stop event.  A bus created by
// the processor delivers nothing afterwards while a bus supplied through
// Config is left open for its other publishers.  A stopped processor cannot
// be restarted.  Stop is idempotent.
func (p *Processor) Stop() error {
	p.startMtx.Lock()
	defer p.startMtx.Unlock()

	if p.State() == StateStopped {
		return nil
	}

	log.Infof("Stopping UTXO processor")

	if p.running {
		p.cancel()
		close(p.quit)
		p.wg.Wait()
		p.running = false
	}
	p.retry.Stop()

	p.unsubscribe(p.index.Addresses())

	p.index.Reset()
	p.tracker.Reset()
	p.metrics.observe(p.index, p.tracker)

	if err := p.transition(eventStop); err != nil {
		return err
	}

	p.publish(events.UtxoProcStop, struct{}{})
	if p.ownsBus {
		p.bus.Seal()
	}

	log.Infof("UTXO processor stopped")

	return nil
}

// IsActive returns whether the processor is running, synchronized and
// connected to the node.
func (p *Processor) IsActive() bool {
	return p.State() == StateActive && p.transport.IsConnected()
}

// exec runs f on the handler goroutine when it is running, or inline while
// holding the start mutex otherwise, so every mutation has a single writer.
func (p *Processor) exec(ctx context.Context,
	f func(ctx context.Context) error) error {

	p.startMtx.Lock()
	if p.State() == StateStopped {
		p.startMtx.Unlock()
		return ErrProcessorStopped
	}
	if !p.running {
		defer p.startMtx.Unlock()
		return f(ctx)
	}
	p.startMtx.Unlock()

	cmd := command{ctx: ctx, f: f, done: make(chan error, 1)}
	select {
	case p.cmds <- cmd:
	case <-p.quit:
		return ErrProcessorStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	// A received command always runs to completion.
	return <-cmd.done
}

// Apply applies a single notification synchronously, exactly as if it had
// been delivered by the transport.
func (p *Processor) Apply(ctx context.Context, ntfn interface{}) error {
	return p.exec(ctx, func(ctx context.Context) error {
		p.handleNotification(ctx, ntfn)
		return nil
	})
}

// handler is the single writer of the index while the processor runs.  It
// applies notifications in delivery order, runs commands and drives resync
// attempts while reconnecting.
//
// NOTE: MUST be run as a goroutine.
func (p *Processor) handler(ctx context.Context) {
	defer p.wg.Done()

	ntfns := p.transport.Notifications()
	for {
		select {
		case n, ok := <-ntfns:
			if !ok {
				log.Warnf("Transport notification channel closed")
				ntfns = nil
				p.handleDisconnect()
				continue
			}
			p.handleNotification(ctx, n)

		case cmd := <-p.cmds:
			cmd.done <- cmd.f(cmd.ctx)

		case <-p.retry.Ticks():
			if p.State() == StateReconnecting {
				p.tryResync(ctx)
			}

		case <-ctx.Done():
			return
		}
	}
}

// handleDisconnect moves an active processor to reconnecting.
func (p *Processor) handleDisconnect() {
	if p.State() != StateActive {
		return
	}

	if err := p.transition(eventDisconnect); err != nil {
		log.Errorf("Unable to enter reconnecting state: %v", err)
		return
	}
	p.retry.Resume()

	log.Warnf("Lost connection to node, retaining %d outputs until "+
		"resync", p.index.Len())

	p.publish(events.Disconnect, p.connectInfo(p.tracker.Network()))
}

// tryResync attempts to resynchronize a reconnecting processor.  On failure
// the processor stays reconnecting and the next retry tick tries again.
func (p *Processor) tryResync(ctx context.Context) {
	if !p.transport.IsConnected() {
		log.Debugf("Node still unreachable, resync deferred")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	info, err := p.transport.ServerInfo(ctx)
	if err != nil {
		log.Warnf("Resync failed: %v", err)
		return
	}
	if err := p.subscribe(ctx, p.index.Addresses()); err != nil {
		log.Warnf("Resync failed: %v", err)
		return
	}
	if err := p.resync(ctx, info.VirtualDAAScore, false); err != nil {
		log.Warnf("Resync failed: %v", err)
		return
	}

	if err := p.transition(eventSynced); err != nil {
		log.Errorf("Unable to enter active state: %v", err)
		return
	}
	p.retry.Pause()
	p.metrics.reconnects.Inc()

	log.Infof("Resynchronized with node at DAA score %d",
		info.VirtualDAAScore)

	p.publish(events.Connect, p.connectInfo(p.tracker.Network()))
	p.publish(events.SyncState, &events.SyncInfo{IsSynced: info.IsSynced})
}

// connectInfo builds the payload of connect and disconnect events.
func (p *Processor) connectInfo(net netparams.NetworkID) *events.ConnectInfo {
	return &events.ConnectInfo{
		URL:       p.cfg.URL,
		NetworkID: net.String(),
	}
}

// publish delivers an event, logging and counting failed listeners.  A
// failing listener never interrupts processing.
func (p *Processor) publish(kind events.Kind, data interface{}) {
	err := p.bus.Publish(events.Event{Kind: kind, Data: data})
	if err == nil {
		return
	}

	failures := 1
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		failures = len(joined.Unwrap())
	}
	p.metrics.listenerFailures.Add(float64(failures))
}

// withTimeout bounds ctx with the request timeout unless it already has a
// deadline.
func (p *Processor) withTimeout(ctx context.Context) (context.Context,
	context.CancelFunc) {

	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.cfg.RequestTimeout)
}
