package main

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lattice-network/lattice/bft"
	"github.com/lattice-network/lattice/cmd/rpc"
	"github.com/lattice-network/lattice/fsm"
	"github.com/lattice-network/lattice/lib"
	"github.com/lattice-network/lattice/store"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lattice",
	Short: "lattice is a sharded block commitment and confidential transaction finalization engine",
}

var (
	config  = lib.Config{}
	l       = lib.LoggerI(nil)
	dataDir = ""
	valKey  = (*lib.ValidatorKey)(nil)
)

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", lib.DefaultDataDirPath(), "custom data directory location")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start the node",
	Run: func(cmd *cobra.Command, args []string) {
		config, valKey = InitializeDataDirectory(dataDir, lib.NewDefaultLogger())
		l = lib.NewLogger(lib.LoggerConfig{Level: config.GetLogLevel()})
		Start()
	},
}

func Start() {
	db, err := store.New(config, l)
	if err != nil {
		l.Fatal(err.Error())
	}
	genesis, err := lib.NewGenesisFromFile(filepath.Join(config.DataDirPath, lib.GenesisFilePath))
	if err != nil {
		l.Fatal(err.Error())
	}
	committee, err := lib.NewCommittee(genesis.Epoch, genesis.Shard, genesis.Committee)
	if err != nil {
		l.Fatal(err.Error())
	}
	registry := lib.NewCommitteeRegistry(config.CommitteeHistory)
	registry.Register(committee)
	signingKey, err := valKey.SchnorrPrivateKey()
	if err != nil {
		l.Fatal(err.Error())
	}
	metrics := lib.NewMetricsServer(config.MetricsConfig, l)
	fees := fsm.NewFeeLedger()
	finalizer := fsm.NewFinalizer(fees, metrics, l)
	engine := bft.New(config, db, fees, registry, bft.RoundRobin{}, bft.NewPledgeTracker(), signingKey, metrics, l)
	engine.SubscribeDispatch(func(transactionID lib.HexBytes) {
		if e := finalizer.Dispatch(transactionID); e != nil {
			l.Warnf("Dispatch failed: %s", e.Error())
		}
	})
	engine.SubscribeCommit(func(block *lib.Block) {
		if e := finalizer.ApplyCommit(block); e != nil {
			l.Warnf("Finalization failed: %s", e.Error())
		}
	})
	genesisBlock, err := genesis.NewGenesisBlock()
	if err != nil {
		l.Fatal(err.Error())
	}
	if err = engine.Bootstrap(genesisBlock); err != nil {
		l.Fatal(err.Error())
	}
	metrics.Start()
	rpc.NewServer(engine, finalizer, db, config, l).Start()
	stopViewLoop := startViewLoop(engine, genesis.Epoch)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGABRT)
	s := <-stop
	stopViewLoop()
	metrics.Stop()
	if err = db.Close(); err != nil {
		l.Error(err.Error())
	}
	l.Infof("Exit command %s received", s)
	os.Exit(0)
}

// startViewLoop() runs the leader failure fallback: when no valid proposal lands
// within the view timeout, a dummy block fills the missed height
func startViewLoop(engine *bft.Engine, epoch uint64) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(config.ViewTimeoutMS) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := engine.OnViewTimeout(epoch); err != nil {
					l.Warnf("View timeout handling failed: %s", err.Error())
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func InitializeDataDirectory(dataDirPath string, log lib.LoggerI) (c lib.Config, key *lib.ValidatorKey) {
	if err := os.MkdirAll(dataDirPath, os.ModePerm); err != nil {
		panic(err)
	}
	configFilePath := filepath.Join(dataDirPath, lib.ConfigFilePath)
	if _, err := os.Stat(configFilePath); errors.Is(err, os.ErrNotExist) {
		log.Infof("Creating %s file", lib.ConfigFilePath)
		if err = lib.DefaultConfig().WriteToFile(configFilePath); err != nil {
			panic(err)
		}
	}
	privateValKeyPath := filepath.Join(dataDirPath, lib.ValKeyPath)
	if _, err := os.Stat(privateValKeyPath); errors.Is(err, os.ErrNotExist) {
		log.Infof("Creating %s file", lib.ValKeyPath)
		fresh, e := lib.NewValidatorKey()
		if e != nil {
			panic(e)
		}
		if e = fresh.WriteToFile(privateValKeyPath); e != nil {
			panic(e)
		}
	}
	key, err := lib.NewValidatorKeyFromFile(privateValKeyPath)
	if err != nil {
		panic(err)
	}
	c, err = lib.NewConfigFromFile(configFilePath)
	if err != nil {
		panic(err)
	}
	c.DataDirPath = dataDirPath
	genesisFilePath := filepath.Join(dataDirPath, lib.GenesisFilePath)
	if _, e := os.Stat(genesisFilePath); errors.Is(e, os.ErrNotExist) {
		log.Infof("Creating %s file", lib.GenesisFilePath)
		WriteDefaultGenesisFile(key, c, genesisFilePath)
	}
	return
}

// WriteDefaultGenesisFile() seeds a single validator development genesis
func WriteDefaultGenesisFile(key *lib.ValidatorKey, c lib.Config, genesisFilePath string) {
	validator, err := key.Validator(1)
	if err != nil {
		panic(err)
	}
	genesis := &lib.GenesisState{
		NetworkID: c.NetworkID,
		Shard:     c.ShardID,
		Epoch:     0,
		Committee: []*lib.Validator{validator},
	}
	if err = genesis.WriteToFile(genesisFilePath); err != nil {
		panic(err)
	}
}
