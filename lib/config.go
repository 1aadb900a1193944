package lib

import (
	"os"
	"path/filepath"
	"strings"
)

/* This file implements the 'user controlled' global configuration for each module of the node */

const (
	// FILE NAMES in the 'data directory'
	ConfigFilePath  = "config.json"        // the file path for the node configuration
	ValKeyPath      = "validator_key.json" // the file path for the node's private keys
	GenesisFilePath = "genesis.json"       // the file path for the genesis (first block)

	// the identifier of the 'mainnet' network
	MainnetNetworkID = uint64(1)
)

// Config is the structure of the user configuration options for a node
type Config struct {
	MainConfig      // main options spanning all modules
	ConsensusConfig // consensus engine options
	StoreConfig     // persistence options
	RPCConfig       // rpc API options
	MetricsConfig   // telemetry options
}

// DefaultConfig() returns a Config with developer set options
func DefaultConfig() Config {
	return Config{
		MainConfig:      DefaultMainConfig(),
		ConsensusConfig: DefaultConsensusConfig(),
		StoreConfig:     DefaultStoreConfig(),
		RPCConfig:       DefaultRPCConfig(),
		MetricsConfig:   DefaultMetricsConfig(),
	}
}

// MAIN CONFIG BELOW

type MainConfig struct {
	LogLevel    string `json:"logLevel"`    // any level includes the levels above it: debug < info < warning < error
	NetworkID   uint64 `json:"networkID"`   // the identifier of the logical chain; blocks from other networks are rejected
	ShardID     uint64 `json:"shardID"`     // the shard this node processes local consensus for
	DataDirPath string `json:"dataDirPath"` // the path of the designated folder where the application stores its data
}

// DefaultMainConfig() sets log level to 'info' and shard to 0 on mainnet
func DefaultMainConfig() MainConfig {
	return MainConfig{
		LogLevel:    "info",
		NetworkID:   MainnetNetworkID,
		ShardID:     0,
		DataDirPath: DefaultDataDirPath(),
	}
}

// GetLogLevel() parses the log string in the config file into a LogLevel Enum
func (m *MainConfig) GetLogLevel() int32 {
	switch {
	case strings.Contains(strings.ToLower(m.LogLevel), "deb"):
		return DebugLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "inf"):
		return InfoLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "war"):
		return WarnLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "err"):
		return ErrorLevel
	default:
		return DebugLevel
	}
}

// CONSENSUS CONFIG BELOW

// ConsensusConfig defines the timing and bound parameters of the consensus engine.
// The pledge wait and view timeout bounds are deployment specific and deliberately not
// hard-coded; operators tune them against committee size and inter-shard latency.
type ConsensusConfig struct {
	ViewTimeoutMS       int    `json:"viewTimeoutMS"`       // how long to wait for a leader proposal before synthesizing a dummy block
	PledgeWaitTimeoutMS int    `json:"pledgeWaitTimeoutMS"` // upper bound on the cross-shard pledge suspension before the block fails
	PledgeBackoffBaseMS int    `json:"pledgeBackoffBaseMS"` // initial interval of the exponential backoff used while polling for pledges
	MaxAncestorWalk     uint64 `json:"maxAncestorWalk"`     // bound on parent-chain traversal to protect against malformed chains
	CommitteeHistory    uint64 `json:"committeeHistory"`    // how many past epochs of committee data are retained
}

// DefaultConsensusConfig() returns the developer set consensus timing options
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		ViewTimeoutMS:       5000,
		PledgeWaitTimeoutMS: 10000,
		PledgeBackoffBaseMS: 50,
		MaxAncestorWalk:     10000,
		CommitteeHistory:    10,
	}
}

// STORE CONFIG BELOW

type StoreConfig struct {
	DBName   string `json:"dbName"`   // the name of the database directory
	InMemory bool   `json:"inMemory"` // run the database purely in memory (testing)
}

// DefaultStoreConfig() returns the developer set persistence options
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DBName:   "lattice",
		InMemory: false,
	}
}

// RPC CONFIG BELOW

type RPCConfig struct {
	RPCPort  string `json:"rpcPort"`  // the port where the rpc server is hosted
	TimeoutS int    `json:"timeoutS"` // the rpc request timeout in seconds
}

// DefaultRPCConfig() returns the developer set rpc options
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		RPCPort:  "40001",
		TimeoutS: 30,
	}
}

// METRICS CONFIG BELOW

type MetricsConfig struct {
	MetricsEnabled bool   `json:"metricsEnabled"` // enable the prometheus endpoint
	MetricsPort    string `json:"metricsPort"`    // the port where the prometheus metrics are hosted
}

// DefaultMetricsConfig() returns the developer set telemetry options
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		MetricsEnabled: false,
		MetricsPort:    "40004",
	}
}

// WriteToFile() saves the Config object to a JSON file
func (c Config) WriteToFile(filepath string) ErrorI {
	configBz, err := MarshalJSONIndent(c)
	if err != nil {
		return err
	}
	if e := os.WriteFile(filepath, configBz, os.ModePerm); e != nil {
		return ErrWriteFile(e)
	}
	return nil
}

// NewConfigFromFile() populates a Config object from a JSON file
func NewConfigFromFile(filepath string) (Config, ErrorI) {
	bz, err := os.ReadFile(filepath)
	if err != nil {
		return Config{}, ErrReadFile(err)
	}
	c := DefaultConfig()
	if e := UnmarshalJSON(bz, &c); e != nil {
		return Config{}, e
	}
	return c, nil
}

// DefaultDataDirPath() returns the default data directory path under the user's home folder
func DefaultDataDirPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lattice")
}
