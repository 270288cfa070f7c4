package cfgutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

func TestAmountFlag(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want btcutil.Amount
		err  bool
	}{
		{in: "1", want: 1e8},
		{in: "0.5 KAS", want: 5e7},
		{in: "1500 sompi", want: 1500},
		{in: "1500sompi", want: 1500},
		{in: "-1", err: true},
		{in: "-3 sompi", err: true},
		{in: "lots", err: true},
	}

	for _, tc := range testCases {
		rt := require.New(t)

		a := NewAmountFlag(7)
		err := a.UnmarshalFlag(tc.in)
		if tc.err {
			rt.Error(err, tc.in)
			rt.EqualValues(7, a.Amount)
			continue
		}
		rt.NoError(err, tc.in)
		rt.Equal(tc.want, a.Amount, tc.in)
	}

	s, err := NewAmountFlag(25e6).MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "0.25 KAS", s)
}

func TestDepthFlag(t *testing.T) {
	t.Parallel()

	rt := require.New(t)

	var d DepthFlag
	rt.False(d.IsSet())

	rt.NoError(d.UnmarshalFlag("0"))
	rt.True(d.IsSet())
	rt.Zero(d.Value)

	rt.NoError(d.UnmarshalFlag("1000"))
	rt.EqualValues(1000, d.Value)

	rt.Error(d.UnmarshalFlag("-1"))
}

func TestNormalizeNodeURL(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "localhost", want: "ws://localhost:18110"},
		{in: "10.0.0.1:17110", want: "ws://10.0.0.1:17110"},
		{in: "wss://node.example.com", want: "wss://node.example.com:18110"},
		{in: "ws://[::1]:9000/json", want: "ws://[::1]:9000/json"},
		{in: "::1", want: "ws://[::1]:18110"},
		{in: "http://localhost", err: true},
	}

	for _, tc := range testCases {
		got, err := NormalizeNodeURL(tc.in, "18110")
		if tc.err {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestFileHelpers(t *testing.T) {
	t.Parallel()

	rt := require.New(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "utxowatch.conf")
	exists, err := FileExists(path)
	rt.NoError(err)
	rt.False(exists)

	rt.NoError(os.WriteFile(path, nil, 0600))
	exists, err = FileExists(path)
	rt.NoError(err)
	rt.True(exists)

	rt.Equal(dir, CleanAndExpandPath(dir+"/logs/.."))
	rt.Empty(CleanAndExpandPath(""))
}
