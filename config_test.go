package main

import (
	"testing"

	"github.com/btcsuite/utxowatch/netparams"
	"github.com/stretchr/testify/require"
)

// TestConfigValidate checks the derived settings and the rejected option
// combinations.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	c := defaultConfig()
	c.Network = "simnet"
	c.Addresses = []string{"kaspasim:alice", " kaspasim:alice", "",
		"kaspasim:bob"}
	rt.NoError(c.validate())
	rt.Equal(netparams.SimNetParams.ID, c.params.ID)
	rt.Equal("ws://localhost:18510", c.url)
	rt.Equal([]string{"kaspasim:alice", "kaspasim:bob"}, c.Addresses)

	c.RPCConnect = "wss://node.example.com/json"
	rt.NoError(c.validate())
	rt.Equal("wss://node.example.com:18510/json", c.url)

	testCases := []struct {
		name   string
		modify func(*config)
	}{
		{"network", func(c *config) { c.Network = "regtest" }},
		{"testnet suffix", func(c *config) { c.Network = "testnet" }},
		{"rpcconnect", func(c *config) { c.RPCConnect = "http://node" }},
		{"addresses", func(c *config) { c.Addresses = nil }},
		{"retry", func(c *config) { c.RetryInterval = 0 }},
		{"start timeout", func(c *config) { c.StartTimeout = -1 }},
		{"batch size", func(c *config) { c.FetchBatchSize = 0 }},
	}
	for _, tc := range testCases {
		c := defaultConfig()
		c.Addresses = []string{"kaspa:alice"}
		tc.modify(&c)
		rt.Error(c.validate(), tc.name)
	}
}

// TestParseAndSetDebugLevels checks the accepted debug level forms.
func TestParseAndSetDebugLevels(t *testing.T) {
	rt := require.New(t)
	t.Cleanup(func() { setLogLevels(defaultLogLevel) })

	rt.NoError(parseAndSetDebugLevels("debug"))
	rt.NoError(parseAndSetDebugLevels("UPRC=trace,CHNS=warn"))

	for _, level := range []string{
		"verbose", "UPRC", "UPRC=verbose", "WLLT=debug", "UPRC=info,",
	} {
		rt.Error(parseAndSetDebugLevels(level), level)
	}

	rt.Equal([]string{"CHNS", "EVNT", "UPRC", "UTXW"}, supportedSubsystems())
}
