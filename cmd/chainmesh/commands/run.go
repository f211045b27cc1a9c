package commands

import (
	"fmt"

	"github.com/chainmesh/chainmesh/src/chain"
	"github.com/chainmesh/chainmesh/src/crypto/keys"
	"github.com/chainmesh/chainmesh/src/net"
	"github.com/chainmesh/chainmesh/src/node"
	"github.com/chainmesh/chainmesh/src/peers"
	"github.com/chainmesh/chainmesh/src/registry"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a chainmesh node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runChainmesh,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runChainmesh(cmd *cobra.Command, args []string) error {
	logger := _config.Logger()

	// Read the private key
	keyfile := keys.NewSimpleKeyfile(_config.Keyfile())
	key, err := keyfile.ReadKey()
	if err != nil {
		logger.Error("Cannot read private key:", err)
		return err
	}
	_config.Key = key

	// Read the initial membership
	jsonPeerSet := peers.NewJSONPeerSet(_config.DataDir)
	peerSet, err := jsonPeerSet.PeerSet()
	if err != nil {
		logger.Error("Cannot read peers.json:", err)
		return err
	}

	if peerSet.Len() < 2 {
		return fmt.Errorf("peers.json should define at least two peers")
	}

	// The community identifier defaults to the hash of the initial peer set
	community := _config.Community
	if community == "" {
		community = peerSet.Hex()
	}

	// The record store factory, one store per community
	newStore := func(comm string) (chain.RecordStore, error) {
		if _config.Store {
			return chain.NewBadgerRecordStore(_config.DatabaseDir)
		}
		return chain.NewInmemRecordStore(), nil
	}

	onFork := func(comm string, owner []byte, competing []*chain.Record) {
		logger.WithFields(logrus.Fields{
			"community": comm,
			"versions":  len(competing),
		}).Warn("Fork detected")
	}

	reg := registry.NewRegistry(newStore, onFork, logger)
	if err := reg.JoinCommunity(community, peerSet); err != nil {
		logger.Error("Cannot join community:", err)
		return err
	}

	trans, err := net.NewTCPTransport(_config.BindAddr,
		_config.AdvertiseAddr,
		_config.MaxPool,
		_config.TCPTimeout,
		logger)
	if err != nil {
		logger.Error("Cannot create transport:", err)
		return err
	}

	validator := node.NewValidator(key, _config.Moniker)

	chainmeshNode := node.NewNode(_config, validator, peerSet, reg, community, trans)

	if err := chainmeshNode.Init(); err != nil {
		logger.Error("Cannot initialize node:", err)
		return err
	}

	chainmeshNode.Run(true)

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Optional file where logs are also written")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for chainmesh node")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for chainmesh node")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")

	// Node configuration
	cmd.Flags().Duration("heartbeat", _config.HeartbeatTimeout, "Time between gossips when there are holes to fill")
	cmd.Flags().Duration("slow-heartbeat", _config.SlowHeartbeatTimeout, "Time between gossips when caught up")
	cmd.Flags().Int("sync-limit", _config.SyncLimit, "Max number of records for sync")
	cmd.Flags().String("community", _config.Community, "Community identifier")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":              _config.DataDir,
		"BindAddr":             _config.BindAddr,
		"AdvertiseAddr":        _config.AdvertiseAddr,
		"MaxPool":              _config.MaxPool,
		"Store":                _config.Store,
		"LogLevel":             _config.LogLevel,
		"Moniker":              _config.Moniker,
		"HeartbeatTimeout":     _config.HeartbeatTimeout,
		"SlowHeartbeatTimeout": _config.SlowHeartbeatTimeout,
		"TCPTimeout":           _config.TCPTimeout,
		"SyncLimit":            _config.SyncLimit,
		"Community":            _config.Community,
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/chainmesh.toml (.json, .yaml also work)
	viper.SetConfigName("chainmesh")     // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
