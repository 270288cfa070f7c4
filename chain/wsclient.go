// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/utxowatch/utxo"
	"github.com/btcsuite/websocket"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/queue"
)

const (
	// DefaultRetryInterval is the base interval between redial attempts.
	DefaultRetryInterval = 5 * time.Second

	// DefaultRequestTimeout bounds a request whose context has no
	// deadline.
	DefaultRequestTimeout = 30 * time.Second

	// ntfnQueueSize is the initial size of the notification buffer.
	ntfnQueueSize = 100
)

var (
	// ErrNotConnected is returned for requests made while the connection
	// to the node is down.
	ErrNotConnected = errors.New("not connected to node")

	// ErrClientShutdown is returned for requests made after Stop.
	ErrClientShutdown = errors.New("client is shutting down")
)

// A compile-time check to ensure that WSClient satisfies the Transport
// interface.
var _ Transport = (*WSClient)(nil)

// WSClientConfig defines the config options used when initializing the
// websocket client.
type WSClientConfig struct {
	// URL is the ws:// or wss:// endpoint of the node's JSON wRPC
	// server.
	URL string

	// RetryInterval is the base interval between redial attempts after
	// the connection is lost.  Zero selects DefaultRetryInterval.
	RetryInterval time.Duration

	// RequestTimeout bounds requests whose context has no deadline.  Zero
	// selects DefaultRequestTimeout.
	RequestTimeout time.Duration

	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer
}

// validate checks the required config options are set.
func (c *WSClientConfig) validate() error {
	if c == nil {
		return errors.New("missing websocket client config")
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid node url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("node url %q must use ws or wss", c.URL)
	}

	if c.RetryInterval < 0 || c.RequestTimeout < 0 {
		return errors.New("intervals must be positive")
	}

	return nil
}

// WSClient is a persistent JSON wRPC connection to a node over websocket.
// Notifications are buffered in an unbounded queue so the socket reader never
// blocks on a slow consumer.  When the connection drops the client redials
// in the background and announces both transitions with
// ConnectionStateChanged notifications.
type WSClient struct {
	cfg    WSClientConfig
	dialer *websocket.Dialer

	connMtx   sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
	writeMtx  sync.Mutex

	nextID     atomic.Uint64
	pendingMtx sync.Mutex
	pending    map[uint64]chan *message

	ntfnQueue *queue.ConcurrentQueue

	quit    chan struct{}
	wg      sync.WaitGroup
	started bool
	quitMtx sync.Mutex
}

// NewWSClient creates a client for the node described by the config.  The
// connection is not established until Start is called.
func NewWSClient(cfg *WSClientConfig) (*WSClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &WSClient{
		cfg:       *cfg,
		dialer:    cfg.Dialer,
		pending:   make(map[uint64]chan *message),
		ntfnQueue: queue.NewConcurrentQueue(ntfnQueueSize),
		quit:      make(chan struct{}),
	}
	if c.cfg.RetryInterval == 0 {
		c.cfg.RetryInterval = DefaultRetryInterval
	}
	if c.cfg.RequestTimeout == 0 {
		c.cfg.RequestTimeout = DefaultRequestTimeout
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{
			HandshakeTimeout: c.cfg.RequestTimeout,
		}
	}

	return c, nil
}

// Start dials the node and launches the connection handler.  An error is
// returned when the first dial fails; later drops are retried in the
// background.
func (c *WSClient) Start() error {
	c.quitMtx.Lock()
	defer c.quitMtx.Unlock()

	select {
	case <-c.quit:
		return ErrClientShutdown
	default:
	}
	if c.started {
		return nil
	}

	conn, err := c.dial()
	if err != nil {
		return err
	}

	c.started = true
	c.ntfnQueue.Start()

	c.wg.Add(1)
	go c.connHandler(conn)

	return nil
}

// Stop closes the connection and shuts down the connection handler.  It is
// safe to call more than once.
func (c *WSClient) Stop() {
	c.quitMtx.Lock()
	select {
	case <-c.quit:
		c.quitMtx.Unlock()
		return
	default:
	}
	close(c.quit)
	started := c.started
	c.quitMtx.Unlock()

	c.connMtx.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMtx.Unlock()

	c.wg.Wait()
	if started {
		c.ntfnQueue.Stop()
	}
}

// WaitForShutdown blocks until the connection handler exits.
func (c *WSClient) WaitForShutdown() {
	c.wg.Wait()
}

// Notifications returns the channel notifications are delivered on.
func (c *WSClient) Notifications() <-chan interface{} {
	return c.ntfnQueue.ChanOut()
}

// IsConnected returns whether the socket to the node is established.
func (c *WSClient) IsConnected() bool {
	return c.connected.Load()
}

// SubscribeAddresses requests UTXO change notifications for the addresses.
func (c *WSClient) SubscribeAddresses(ctx context.Context,
	addrs []string) error {

	return c.call(ctx, methodSubscribeUtxosChanged,
		addressesParams{Addresses: addrs}, nil)
}

// UnsubscribeAddresses stops UTXO change notifications for the addresses.
func (c *WSClient) UnsubscribeAddresses(ctx context.Context,
	addrs []string) error {

	return c.call(ctx, methodUnsubscribeUtxosChanged,
		addressesParams{Addresses: addrs}, nil)
}

// UtxosByAddresses returns the unspent outputs of the addresses known to the
// node.
func (c *WSClient) UtxosByAddresses(ctx context.Context,
	addrs []string) ([]*utxo.Entry, error) {

	var res getUtxosByAddressesResult
	err := c.call(ctx, methodGetUtxosByAddresses,
		addressesParams{Addresses: addrs}, &res)
	if err != nil {
		return nil, err
	}

	entries := make([]*utxo.Entry, 0, len(res.Entries))
	for i := range res.Entries {
		entry, err := res.Entries[i].toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ServerInfo queries the node description and virtual DAA score.
func (c *WSClient) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	var res getServerInfoResult
	if err := c.call(ctx, methodGetServerInfo, struct{}{}, &res); err != nil {
		return nil, err
	}

	return &ServerInfo{
		ServerVersion:   res.ServerVersion,
		NetworkID:       res.NetworkID,
		HasUtxoIndex:    res.HasUtxoIndex,
		IsSynced:        res.IsSynced,
		VirtualDAAScore: res.VirtualDAAScore,
	}, nil
}

// call sends a request and waits for its response.  When result is not nil
// the response params are decoded into it.
func (c *WSClient) call(ctx context.Context, method string,
	params interface{}, result interface{}) error {

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	id := c.nextID.Add(1)
	b, err := json.Marshal(&request{ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}

	respChan := make(chan *message, 1)
	c.pendingMtx.Lock()
	c.pending[id] = respChan
	c.pendingMtx.Unlock()
	defer func() {
		c.pendingMtx.Lock()
		delete(c.pending, id)
		c.pendingMtx.Unlock()
	}()

	if err := c.send(b); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	log.Tracef("Sent request %d: %s", id, method)

	select {
	case resp, ok := <-respChan:
		if !ok {
			return fmt.Errorf("%s: %w", method, ErrNotConnected)
		}
		if resp.Error != nil {
			resp.Error.Method = method
			return resp.Error
		}
		if result == nil || len(resp.Params) == 0 {
			return nil
		}
		return json.Unmarshal(resp.Params, result)

	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())

	case <-c.quit:
		return ErrClientShutdown
	}
}

// send writes a single frame to the current connection.
func (c *WSClient) send(b []byte) error {
	c.connMtx.Lock()
	conn := c.conn
	c.connMtx.Unlock()
	if conn == nil || !c.connected.Load() {
		return ErrNotConnected
	}

	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()

	return conn.WriteMessage(websocket.TextMessage, b)
}

// dial opens a new connection to the node.
func (c *WSClient) dial() (*websocket.Conn, error) {
	conn, _, err := c.dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// setConn replaces the current connection.
func (c *WSClient) setConn(conn *websocket.Conn) {
	c.connMtx.Lock()
	c.conn = conn
	c.connMtx.Unlock()

	c.connected.Store(conn != nil)
}

// failPending wakes every request waiting for a response on a connection
// that was lost.
func (c *WSClient) failPending() {
	c.pendingMtx.Lock()
	defer c.pendingMtx.Unlock()

	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// notify hands a notification to the queue unless the client is quitting.
func (c *WSClient) notify(n interface{}) {
	select {
	case c.ntfnQueue.ChanIn() <- n:
	case <-c.quit:
	}
}

// onConnect subscribes to the chain wide notifications every connection
// needs.  Address subscriptions are owned by the consumer.
func (c *WSClient) onConnect(ctx context.Context) error {
	err := c.call(ctx, methodSubscribeVirtualDaaScoreChanged, struct{}{}, nil)
	if err != nil {
		return err
	}
	return c.call(ctx, methodSubscribeVirtualChainChanged, struct{}{}, nil)
}

// connHandler owns the connection for the lifetime of the client.  It
// serves the connection until it drops, then redials until it succeeds or
// the client is stopped.
//
// NOTE: MUST be run as a goroutine.
func (c *WSClient) connHandler(conn *websocket.Conn) {
	defer c.wg.Done()

	for conn != nil {
		c.setConn(conn)

		done := make(chan error, 1)
		go func(conn *websocket.Conn) {
			done <- c.readLoop(conn)
		}(conn)

		ctx, cancel := context.WithTimeout(
			context.Background(), c.cfg.RequestTimeout,
		)
		err := c.onConnect(ctx)
		cancel()
		if err != nil {
			log.Warnf("Unable to subscribe to chain notifications "+
				"on %s: %v", c.cfg.URL, err)
			conn.Close()
		} else {
			log.Infof("Connected to %s", c.cfg.URL)
			c.notify(ConnectionStateChanged{Connected: true})
		}

		select {
		case err = <-done:
		case <-c.quit:
			conn.Close()
			<-done
			c.setConn(nil)
			c.failPending()
			return
		}

		c.setConn(nil)
		c.failPending()

		select {
		case <-c.quit:
			return
		default:
		}

		log.Warnf("Lost connection to %s: %v", c.cfg.URL, err)
		c.notify(ConnectionStateChanged{Connected: false})

		conn = c.redial()
	}
}

// redial retries the connection on every tick of a jitter ticker.  It
// returns nil when the client is stopped first.
func (c *WSClient) redial() *websocket.Conn {
	ticker := NewJitterTicker(c.cfg.RetryInterval, DefaultRetryJitter)
	ticker.Resume()
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ticker.Ticks():
		case <-c.quit:
			return nil
		}

		conn, err := c.dial()
		if err == nil {
			return conn
		}
		log.Debugf("Redial attempt %d failed: %v", attempt, err)
	}
}

// readLoop reads frames until the connection fails, dispatching responses to
// their waiting requests and notifications to the queue.
func (c *WSClient) readLoop(conn *websocket.Conn) error {
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg message
		if err := json.Unmarshal(b, &msg); err != nil {
			log.Warnf("Ignoring malformed frame: %v", err)
			continue
		}

		if msg.ID != nil {
			c.pendingMtx.Lock()
			ch, ok := c.pending[*msg.ID]
			if ok {
				ch <- &msg
				delete(c.pending, *msg.ID)
			}
			c.pendingMtx.Unlock()

			if !ok {
				log.Debugf("Dropping response to unknown "+
					"request %d", *msg.ID)
			}
			continue
		}

		ntfns, err := decodeNotification(msg.Method, msg.Params)
		if err != nil {
			log.Warnf("Ignoring %s: %v", msg.Method, err)
			continue
		}

		log.Tracef("Received %s: %v", msg.Method, logClosure(
			func() string {
				return spew.Sdump(ntfns)
			}),
		)

		for _, n := range ntfns {
			c.notify(n)
		}
	}
}
