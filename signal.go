// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"
)

// interruptChannel is used to receive SIGINT (Ctrl+C) signals.
var interruptChannel chan os.Signal

// addHandlerChannel is used to add an interrupt handler to the list of handlers
// to be invoked on SIGINT (Ctrl+C) signals.
var addHandlerChannel = make(chan func())

// interruptHandlersDone is closed after all interrupt handlers run the first
// time an interrupt is signaled.
var interruptHandlersDone = make(chan struct{})

var simulateInterruptChannel = make(chan struct{}, 1)

// shutdownCtx is canceled once a shutdown is signaled, before any interrupt
// handler runs.
var shutdownCtx, cancelShutdown = context.WithCancel(context.Background())

// signals defines the signals that are handled to do a clean shutdown.
// Conditional compilation is used to also include SIGTERM on Unix.
var signals = []os.Signal{os.Interrupt}

// simulateInterrupt requests invoking the clean termination process by an
// internal component instead of a SIGINT.
func simulateInterrupt() {
	select {
	case simulateInterruptChannel <- struct{}{}:
	default:
	}
}

// mainInterruptHandler waits for a shutdown signal or request, cancels
// shutdownCtx and then runs the registered handlers in LIFO order.  It must be run as a goroutine.
func mainInterruptHandler() {
	var handlers []func()
	shutdown := func() {
		cancelShutdown()
		for i := len(handlers) - 1; i >= 0; i-- {
			handlers[i]()
		}
		close(interruptHandlersDone)
	}

	for {
		select {
		case sig := <-interruptChannel:
			log.Infof("Received signal (%s).  Shutting down...", sig)
			shutdown()
			return

		case <-simulateInterruptChannel:
			log.Info("Received shutdown request.  Shutting down...")
			shutdown()
			return

		case handler := <-addHandlerChannel:
			handlers = append(handlers, handler)
		}
	}
}

// addInterruptHandler adds a handler to call when a shutdown is signaled.
// Handlers added later run first.
func addInterruptHandler(handler func()) {
	// Create the channel and start the main interrupt handler which invokes
	// all other callbacks and exits if not already done.
	if interruptChannel == nil {
		interruptChannel = make(chan os.Signal, 1)
		signal.Notify(interruptChannel, signals...)
		go mainInterruptHandler()
	}

	addHandlerChannel <- handler
}
