// Copyright 2025 Certen Protocol
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/aureum-chain/aureum-node/pkg/compliance"
	"github.com/aureum-chain/aureum-node/pkg/config"
	"github.com/aureum-chain/aureum-node/pkg/kvdb"
	"github.com/aureum-chain/aureum-node/pkg/node"
	"github.com/aureum-chain/aureum-node/pkg/oracle"
	"github.com/aureum-chain/aureum-node/pkg/p2p"
	"github.com/aureum-chain/aureum-node/pkg/rpc"
	"github.com/aureum-chain/aureum-node/pkg/storage"
	"github.com/aureum-chain/aureum-node/pkg/vm"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		initGenesis = flag.Bool("init", false, "bootstrap a fresh data directory from genesis and exit")
		nodeID      = flag.String("node-id", "", "node ID (overrides AUREUM_NODE_ID)")
		showHelp    = flag.Bool("help", false, "show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	log.Printf("starting aureum-node %s (data dir %s, backend %s)", cfg.NodeID, cfg.DataDir, cfg.DBBackend)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		log.Fatalf("create data dir %s: %v", cfg.DataDir, err)
	}

	genesis, err := config.LoadGenesis(cfg.GenesisFile)
	if err != nil {
		log.Fatalf("load genesis: %v", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		log.Fatalf("open storage backend: %v", err)
	}
	store := storage.NewStore(kvdb.NewKVAdapter(db))

	if err := node.Bootstrap(store, genesis); err != nil {
		log.Fatalf("bootstrap genesis: %v", err)
	}
	log.Printf("genesis ready: chain_id=%s total_supply=%d validators=%d", genesis.ChainID, genesis.TotalSupply, len(genesis.Validators))

	if *initGenesis {
		log.Printf("init complete, exiting (remove --init to run the node)")
		return
	}

	privKey, err := loadOrGenerateEd25519Key(cfg.Ed25519KeyPath)
	if err != nil {
		log.Fatalf("load/generate validator key: %v", err)
	}

	bus := p2p.NewInMemoryBus()
	complianceEngine := compliance.NewEngine()
	oracleEngine := oracle.NewOracle(genesis.AuthorizedReporters)
	vmExec := vm.NewDeterministicVM()

	n, err := node.New(cfg, store, bus, complianceEngine, oracleEngine, vmExec, privKey, log.New(log.Writer(), "[Node] ", log.LstdFlags))
	if err != nil {
		log.Fatalf("construct node: %v", err)
	}
	log.Printf("validator address: %s", n.Address())

	ctx, cancel := context.WithCancel(context.Background())
	go n.Run(ctx)

	rpcServer := rpc.NewServer(n, log.New(log.Writer(), "[RPC] ", log.LstdFlags))
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: rpcServer.Handler()}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: rpc.MetricsHandler(n)}

	go func() {
		log.Printf("JSON-RPC and health listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("rpc server: %v", err)
		}
	}()
	go func() {
		log.Printf("metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("rpc server shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown: %v", err)
	}
	if err := store.Flush(); err != nil {
		log.Printf("final flush: %v", err)
	}
	log.Printf("stopped at height %d", n.Height())
}

// openDB selects the storage backend per cfg.DBBackend: goleveldb for
// persistent production data directories, memdb for ephemeral devnets.
func openDB(cfg *config.Config) (dbm.DB, error) {
	switch cfg.DBBackend {
	case "memdb":
		return dbm.NewMemDB(), nil
	case "goleveldb":
		db, err := dbm.NewGoLevelDB("aureum", cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open goleveldb at %s: %w", cfg.DataDir, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown db backend %q", cfg.DBBackend)
	}
}

// loadOrGenerateEd25519Key loads the validator's signing key from keyPath,
// generating and persisting a new one (0600, parent dir 0700) on first run.
func loadOrGenerateEd25519Key(keyPath string) (ed25519.PrivateKey, error) {
	keyDir := filepath.Dir(keyPath)
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("create key directory %s: %w", keyDir, err)
	}

	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		log.Printf("generating new validator key at %s", keyPath)
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(priv)), 0600); err != nil {
			return nil, fmt.Errorf("save ed25519 key to %s: %w", keyPath, err)
		}
		return priv, nil
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ed25519 key from %s: %w", keyPath, err)
	}
	keyBytes, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode ed25519 key from %s: %w", keyPath, err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 key size in %s: expected %d, got %d", keyPath, ed25519.PrivateKeySize, len(keyBytes))
	}
	return ed25519.PrivateKey(keyBytes), nil
}

func printHelp() {
	fmt.Println(`aureum-node: permissioned L1 validator for real-estate tokenization

Usage:
  aureum-node [flags]

Flags:
  -init         bootstrap a fresh data directory from genesis and exit
  -node-id      node ID (overrides AUREUM_NODE_ID)
  -help         show this message

Configuration is read from AUREUM_* environment variables; see pkg/config.`)
}
