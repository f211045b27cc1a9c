package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/chainmesh/chainmesh/src/common"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the member's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel             = "debug"
	DefaultBindAddr             = "127.0.0.1:1337"
	DefaultHeartbeatTimeout     = 10 * time.Millisecond
	DefaultSlowHeartbeatTimeout = 1000 * time.Millisecond
	DefaultTCPTimeout           = 1000 * time.Millisecond
	DefaultSyncLimit            = 1000
	DefaultMaxPool              = 2
	DefaultStore                = false
)

// Config contains all the configuration properties of a chainmesh node.
type Config struct {
	// DataDir is the top-level directory containing chainmesh configuration
	// and data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile is an optional path to a file where logs are written in
	// addition to the standard output.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the local address:port where this node gossips with other
	// nodes. In some cases, there may be a routable address that cannot be
	// bound. Use AdvertiseAddr to advertise a different address to support
	// this.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// HeartbeatTimeout is the frequency of the gossip timer when the node has
	// holes left to fill.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`

	// SlowHeartbeatTimeout is the frequency of the gossip timer when the node
	// is fully caught up.
	SlowHeartbeatTimeout time.Duration `mapstructure:"slow-heartbeat"`

	// MaxPool controls how many connections are pooled per target in the
	// gossip routines.
	MaxPool int `mapstructure:"max-pool"`

	// TCPTimeout is the timeout of gossip RPC connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// SyncLimit defines the max number of records to include in a
	// SyncResponse or EagerSyncRequest
	SyncLimit int `mapstructure:"sync-limit"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Community is the identifier of the community the node joins on startup.
	// If empty, it is derived from the hash of the initial peer set.
	Community string `mapstructure:"community"`

	// Moniker defines the friendly name of this node
	Moniker string `mapstructure:"moniker"`

	// Key is the private key of the member.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:              DefaultDataDir(),
		LogLevel:             DefaultLogLevel,
		BindAddr:             DefaultBindAddr,
		HeartbeatTimeout:     DefaultHeartbeatTimeout,
		SlowHeartbeatTimeout: DefaultSlowHeartbeatTimeout,
		TCPTimeout:           DefaultTCPTimeout,
		SyncLimit:            DefaultSyncLimit,
		MaxPool:              DefaultMaxPool,
		Store:                DefaultStore,
		DatabaseDir:          DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level chainmesh directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// Logger returns a formatted logrus Entry, with prefix set to "chainmesh".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			_, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY, 0666)
			if err != nil {
				c.logger.WithField("file", c.LogFile).Warn("Failed to open log file, using default stderr")
			} else {
				pathMap := lfshook.PathMap{}
				for _, level := range logrus.AllLevels {
					if level <= c.logger.Level {
						pathMap[level] = c.LogFile
					}
				}
				c.logger.Hooks.Add(lfshook.NewHook(
					pathMap,
					&logrus.TextFormatter{},
				))
			}
		}
	}
	return c.logger.WithField("prefix", "chainmesh")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level chainmesh
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Chainmesh")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Chainmesh")
		} else {
			return filepath.Join(home, ".chainmesh")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
