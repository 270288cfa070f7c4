// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// NormalizeAddress returns the normalized form of the address, adding a
// default port if necessary.  An error is returned if the address, even
// without a port, is not valid.
func NormalizeAddress(addr, defaultPort string) (string, error) {
	host, port, origErr := net.SplitHostPort(addr)
	if origErr == nil {
		return net.JoinHostPort(host, port), nil
	}

	// Only a missing port is fixed up; any other problem with the address
	// is reported as is.
	addr = net.JoinHostPort(addr, defaultPort)
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return "", origErr
	}
	return addr, nil
}

// NormalizeNodeURL turns the rpcconnect option into the websocket URL of a
// node's JSON wRPC endpoint.  Plain host[:port] values are dialed over ws;
// explicit ws:// and wss:// URLs keep their scheme and path.
func NormalizeNodeURL(rpcConnect, defaultPort string) (string, error) {
	scheme := "ws"
	rest := rpcConnect
	if s, r, ok := strings.Cut(rpcConnect, "://"); ok {
		scheme, rest = strings.ToLower(s), r
	}
	if scheme != "ws" && scheme != "wss" {
		return "", fmt.Errorf("unsupported scheme %q in %q", scheme,
			rpcConnect)
	}

	host, path, _ := strings.Cut(rest, "/")
	hostPort, err := NormalizeAddress(host, defaultPort)
	if err != nil {
		return "", err
	}

	u := url.URL{Scheme: scheme, Host: hostPort}
	if path != "" {
		u.Path = "/" + path
	}
	return u.String(), nil
}
