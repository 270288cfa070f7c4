// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/utxowatch/build"
	"github.com/btcsuite/utxowatch/internal/cfgutil"
	"github.com/btcsuite/utxowatch/netparams"
	"github.com/btcsuite/utxowatch/processor"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "utxowatch.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "utxowatch.log"
	defaultNetwork        = "mainnet"
	defaultRPCHost        = "localhost"
	defaultStartTimeout   = time.Minute
)

var (
	defaultAppDataDir = btcutil.AppDataDir("utxowatch", false)
	defaultConfigFile = filepath.Join(defaultAppDataDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultAppDataDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	AppDataDir  string `short:"A" long:"appdata" description:"Application data directory"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	// Network options
	Network    string   `short:"n" long:"network" description:"Network to track {mainnet, testnet-10, testnet-11, devnet, simnet}"`
	RPCConnect string   `short:"c" long:"rpcconnect" description:"Hostname/IP and port or ws:// URL of the node's JSON wRPC server (default localhost with the network's wRPC port)"`
	Addresses  []string `short:"a" long:"address" description:"Address to track -- may be repeated"`

	// Maturity options
	CoinbaseMaturity *cfgutil.DepthFlag `long:"coinbasematurity" description:"DAA score depth coinbase outputs need to mature (default per network)"`
	UserMaturity     *cfgutil.DepthFlag `long:"usermaturity" description:"DAA score depth user outputs need to mature (default per network)"`

	// Processor options
	RetryInterval  time.Duration       `long:"retryinterval" description:"Interval between reconnection and resync attempts"`
	StartTimeout   time.Duration       `long:"starttimeout" description:"Time allowed for connecting and synchronizing on each start attempt"`
	FetchBatchSize int                 `long:"fetchbatchsize" description:"Number of addresses queried per UTXO request while synchronizing"`
	LowBalance     *cfgutil.AmountFlag `long:"lowbalance" description:"Warn when the mature balance of all tracked addresses drops below this amount (eg. 1.5 KAS or 1000 sompi)"`
	MetricsListen  string              `long:"metricslisten" description:"Serve prometheus metrics on this interface/port"`

	params *netparams.Params
	url    string
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		subsysID, logLevel, ok := strings.Cut(logLevelPair, "=")
		if !ok {
			str := "the specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "the specified subsystem [%v] is invalid -- " +
				"supported subsystems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		if !validLogLevel(logLevel) {
			str := "the specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// defaultConfig returns the config used before any file or command line
// option is applied.
func defaultConfig() config {
	return config{
		ConfigFile:       defaultConfigFile,
		AppDataDir:       defaultAppDataDir,
		LogDir:           defaultLogDir,
		DebugLevel:       defaultLogLevel,
		Network:          defaultNetwork,
		CoinbaseMaturity: &cfgutil.DepthFlag{},
		UserMaturity:     &cfgutil.DepthFlag{},
		RetryInterval:    processor.DefaultRetryInterval,
		StartTimeout:     defaultStartTimeout,
		FetchBatchSize:   processor.DefaultFetchBatchSize,
		LowBalance:       cfgutil.NewAmountFlag(0),
	}
}

// validate checks the parsed options and derives the network parameters and
// node URL from them.
func (cfg *config) validate() error {
	id, err := netparams.ParseNetworkID(cfg.Network)
	if err != nil {
		return err
	}
	params, ok := netparams.Lookup(id)
	if !ok {
		return fmt.Errorf("unknown network %v", id)
	}
	cfg.params = params

	rpcConnect := cfg.RPCConnect
	if rpcConnect == "" {
		rpcConnect = defaultRPCHost
	}
	cfg.url, err = cfgutil.NormalizeNodeURL(rpcConnect, params.RPCClientPort)
	if err != nil {
		return fmt.Errorf("invalid rpcconnect: %w", err)
	}

	if len(cfg.Addresses) == 0 {
		return errors.New("no addresses to track -- use --address")
	}
	seen := make(map[string]struct{}, len(cfg.Addresses))
	addrs := cfg.Addresses[:0]
	for _, addr := range cfg.Addresses {
		addr = strings.TrimSpace(addr)
		if _, ok := seen[addr]; ok || addr == "" {
			continue
		}
		seen[addr] = struct{}{}
		addrs = append(addrs, addr)
	}
	cfg.Addresses = addrs

	if cfg.RetryInterval <= 0 {
		return errors.New("retryinterval must be positive")
	}
	if cfg.StartTimeout <= 0 {
		return errors.New("starttimeout must be positive")
	}
	if cfg.FetchBatchSize <= 0 {
		return errors.New("fetchbatchsize must be positive")
	}

	return nil
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in utxowatch functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig() (*config, []string, error) {
	cfg := defaultConfig()

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := defaultConfig()
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			preParser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", build.Version())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	configFile := cfgutil.CleanAndExpandPath(preCfg.ConfigFile)
	exists, err := cfgutil.FileExists(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	if exists {
		err = flags.NewIniParser(parser).ParseFile(configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			parser.WriteHelp(os.Stderr)
			return nil, nil, err
		}
	} else if preCfg.ConfigFile != defaultConfigFile {
		configFileError = fmt.Errorf("config file %s does not exist",
			configFile)
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		var e *flags.Error
		if !errors.As(err, &e) || e.Type != flags.ErrHelp {
			parser.WriteHelp(os.Stderr)
		}
		return nil, nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	if err := cfg.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Append the network to the log directory so it is "namespaced" per
	// network.
	cfg.AppDataDir = cfgutil.CleanAndExpandPath(cfg.AppDataDir)
	cfg.LogDir = cfgutil.CleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, cfg.params.ID.String())

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("loadConfig: %w", err)
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return nil, nil, err
	}

	// Warn about missing config file after the final command line parse
	// succeeds.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}
