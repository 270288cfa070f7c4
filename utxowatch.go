// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/btcsuite/utxowatch/chain"
	"github.com/btcsuite/utxowatch/events"
	"github.com/btcsuite/utxowatch/processor"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var cfg *config

func main() {
	// Work around defer not working after os.Exit.
	if err := utxowatchMain(); err != nil {
		os.Exit(1)
	}
}

// utxowatchMain is a work-around main function that is required since
// deferred functions (such as log flushing) are not called with calls to
// os.Exit.  Instead, main runs this function and checks for a non-nil error,
// at which point any defers have already run, and if the error is non-nil,
// the program can be exited with an error exit status.
func utxowatchMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Install the signal handler before anything blocks.
	addInterruptHandler(func() {})

	net := cfg.params.ID
	if cfg.CoinbaseMaturity.IsSet() {
		processor.SetCoinbaseTransactionMaturityDAA(net,
			cfg.CoinbaseMaturity.Value)
	}
	if cfg.UserMaturity.IsSet() {
		processor.SetUserTransactionMaturityDAA(net, cfg.UserMaturity.Value)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if cfg.MetricsListen != "" {
		startMetricsServer(cfg.MetricsListen, registry)
	}

	client, err := chain.NewWSClient(&chain.WSClientConfig{
		URL:           cfg.url,
		RetryInterval: cfg.RetryInterval,
	})
	if err != nil {
		log.Errorf("Unable to create node client: %v", err)
		return err
	}

	log.Infof("Connecting to %v on %v", cfg.url, net)
	err = retry(shutdownCtx, cfg.RetryInterval, "connect", client.Start)
	if err != nil {
		return waitForShutdown(err)
	}
	addInterruptHandler(client.Stop)

	retryTicker := chain.NewJitterTicker(cfg.RetryInterval,
		chain.DefaultRetryJitter)
	proc, err := processor.New(&processor.Config{
		Transport:      client,
		NetworkID:      fn.Some(net),
		URL:            cfg.url,
		RetryTicker:    retryTicker,
		FetchBatchSize: cfg.FetchBatchSize,
		Registerer:     registry,
	})
	if err != nil {
		log.Errorf("Unable to create UTXO processor: %v", err)
		return err
	}
	addInterruptHandler(func() {
		if err := proc.Stop(); err != nil {
			log.Errorf("Unable to stop UTXO processor: %v", err)
		}
	})

	if _, err := proc.AddListener(logEvent); err != nil {
		return err
	}
	watcher := newBalanceWatcher(cfg.LowBalance.Amount, proc.TotalBalance)
	_, err = proc.AddEventListener(events.BalanceChange, watcher.onBalance,
		nil, nil)
	if err != nil {
		return err
	}

	if err := proc.TrackAddresses(shutdownCtx, cfg.Addresses...); err != nil {
		return waitForShutdown(err)
	}
	log.Infof("Tracking %d %s", len(cfg.Addresses),
		pickNoun(len(cfg.Addresses), "address", "addresses"))

	err = retry(shutdownCtx, cfg.RetryInterval, "start", func() error {
		ctx, cancel := context.WithTimeout(shutdownCtx, cfg.StartTimeout)
		defer cancel()

		return proc.Start(ctx)
	})
	if err != nil {
		return waitForShutdown(err)
	}

	<-interruptHandlersDone
	log.Info("Shutdown complete")
	return nil
}

// waitForShutdown returns nil when err is the result of a requested shutdown,
// after the interrupt handlers are done.  Any other error is returned as is.
func waitForShutdown(err error) error {
	if shutdownCtx.Err() == nil || !errors.Is(err, context.Canceled) {
		log.Errorf("%v", err)
		return err
	}

	<-interruptHandlersDone
	log.Info("Shutdown complete")
	return nil
}

// retry calls f until it succeeds or ctx is done, waiting interval between
// attempts.
func retry(ctx context.Context, interval time.Duration, what string,
	f func() error) error {

	for {
		err := f()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warnf("Unable to %s: %v -- retrying in %v", what, err,
			interval)

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// startMetricsServer serves the registry on addr until shutdown.
func startMetricsServer(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry,
		promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("Metrics server listening on %s", addr)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server: %v", err)
		}
	}()

	addInterruptHandler(func() {
		ctx, cancel := context.WithTimeout(context.Background(),
			5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Errorf("Unable to stop metrics server: %v", err)
		}
	})
}
