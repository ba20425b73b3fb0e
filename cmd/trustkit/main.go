package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ipfs/go-datastore"
	dsexamples "github.com/ipfs/go-datastore/examples"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/relves/trustkit/internal/storage"
	"github.com/relves/trustkit/internal/storage/dsstore"
	"github.com/relves/trustkit/internal/storage/sqlite"
	"github.com/relves/trustkit/pkg/anchor"
	"github.com/relves/trustkit/pkg/anchor/ethereum"
	"github.com/relves/trustkit/pkg/delegation"
	"github.com/relves/trustkit/pkg/proof"
	"github.com/relves/trustkit/pkg/resolver"
	"github.com/relves/trustkit/pkg/revocation"
	"github.com/relves/trustkit/pkg/schema"
	"github.com/relves/trustkit/pkg/server"
	"github.com/relves/trustkit/pkg/statuslist"
	"github.com/relves/trustkit/pkg/tlog"
	"github.com/relves/trustkit/pkg/trust"
	"github.com/relves/trustkit/pkg/verify"
)

func main() {
	levelStr := getEnv("LOG_LEVEL", "info")
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("trustkit stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	dataDir := getEnv("TRUSTKIT_DATA_DIR", "./data")

	fileCfg, err := loadFileConfig(os.Getenv("TRUSTKIT_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Ed25519 key for ledger checkpoints (env var or ephemeral)
	pub, priv, err := loadKeys()
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}
	serviceSigner, err := signer.FromRaw(priv)
	if err != nil {
		return fmt.Errorf("create service signer: %w", err)
	}

	// Status lists and anchor records
	store, closeStore, err := openStore(getEnv("TRUSTKIT_STORE", "sqlite"), dataDir)
	if err != nil {
		return err
	}
	defer closeStore()

	// Ledger leaves and snapshot archive
	ds, err := openDatastore(getEnv("TRUSTKIT_STORE", "sqlite"), dataDir)
	if err != nil {
		return err
	}

	anchorer, ledger, err := newAnchorer(ctx, getEnv("TRUSTKIT_ANCHOR", "ledger"), ds, ed25519.PrivateKey(priv), logger)
	if err != nil {
		return err
	}

	strategy, interval, err := anchorStrategy()
	if err != nil {
		return err
	}

	manager, err := statuslist.NewManager(statuslist.Config{Store: store, Logger: logger})
	if err != nil {
		return err
	}
	registry, err := revocation.New(revocation.Config{
		Manager:  manager,
		Strategy: strategy,
		Anchorer: anchorer,
		Archive:  anchor.NewArchive(ds),
		ChainID:  os.Getenv("TRUSTKIT_CHAIN_ID"),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer registry.Close()

	// DID resolution: did:key natively, configured documents per method
	router := resolver.NewRouter()
	router.Register("key", resolver.KeyResolver{})
	if err := fileCfg.registerDocuments(router); err != nil {
		return err
	}
	res := resolver.NewCache(router, 1024, 5*time.Minute)
	proofs := proof.NewVerifier(res)

	trustReg := trust.NewRegistry(trust.WithLogger(logger))
	if err := fileCfg.seedTrust(trustReg); err != nil {
		return err
	}

	delegations, err := delegation.NewVerifier(delegation.Config{
		Roots:  fileCfg.DelegationRoots,
		Proofs: proofs,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	validator, err := schema.New()
	if err != nil {
		return err
	}
	if err := fileCfg.registerSchemas(validator); err != nil {
		return err
	}

	pipeline, err := verify.New(res,
		verify.WithConfig(fileCfg.verifyConfig()),
		verify.WithProofVerifier(proofs),
		verify.WithStatusChecker(registry),
		verify.WithTrust(trustReg),
		verify.WithDelegation(delegations),
		verify.WithSchema(validator),
		verify.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	api, err := server.NewServer(
		server.WithRevocation(registry),
		server.WithPipeline(pipeline),
		server.WithTrust(trustReg),
		server.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/", api)
	if ledger != nil {
		mux.HandleFunc("GET /ledger/checkpoint", func(w http.ResponseWriter, r *http.Request) {
			note, err := ledger.Checkpoint()
			if err != nil {
				logger.Error("failed to sign checkpoint", "error", err)
				http.Error(w, "failed to sign checkpoint", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write(note)
		})
	}

	if anchorer != nil {
		sched, err := anchor.NewScheduler(anchor.SchedulerConfig{
			Interval: interval,
			Tick:     registry.Tick,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		go sched.Run(ctx)
	}

	addr := getEnv("TRUSTKIT_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(mux, "trustkit"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Println("TRUSTKIT Service Startup")
	fmt.Println("===================================")
	fmt.Printf("Service DID: %s\n", serviceSigner.DID().String())
	fmt.Printf("Public Key (hex): %s\n", hex.EncodeToString(pub))
	if os.Getenv("TRUSTKIT_PRIVATE_KEY") != "" {
		fmt.Println("Key Source: TRUSTKIT_PRIVATE_KEY environment variable")
	} else {
		fmt.Println("Key Source: Ephemeral (generated on startup)")
	}
	fmt.Printf("Store: %s (%s)\n", getEnv("TRUSTKIT_STORE", "sqlite"), dataDir)
	fmt.Printf("Anchoring: %s, strategy %s\n", getEnv("TRUSTKIT_ANCHOR", "ledger"), strategy.Name())
	fmt.Printf("Trust anchors: %d, delegation roots: %d\n", len(trustReg.Anchors()), len(delegations.Roots()))
	fmt.Printf("Listening on %s\n", addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loadKeys loads Ed25519 keys from TRUSTKIT_PRIVATE_KEY env var or generates new ones
func loadKeys() (publicKey, privateKey []byte, err error) {
	if privKeyEnv := os.Getenv("TRUSTKIT_PRIVATE_KEY"); privKeyEnv != "" {
		priv, err := base64.StdEncoding.DecodeString(privKeyEnv)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode TRUSTKIT_PRIVATE_KEY: %w", err)
		}

		if len(priv) != ed25519.PrivateKeySize {
			return nil, nil, fmt.Errorf("TRUSTKIT_PRIVATE_KEY must be %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
		}

		privKey := ed25519.PrivateKey(priv)
		pubKey := privKey.Public().(ed25519.PublicKey)

		return pubKey, priv, nil
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// openStore opens the status list store of the given kind.
func openStore(kind, dataDir string) (storage.StatusListStore, func(), error) {
	switch kind {
	case "sqlite":
		s, err := sqlite.Open(dataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, func() { s.Close() }, nil
	case "memory":
		s := dsstore.NewMemory()
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown TRUSTKIT_STORE %q (want sqlite or memory)", kind)
	}
}

// batching adds basic batches to a datastore that lacks them.
type batching struct {
	datastore.Datastore
}

func (b batching) Batch(context.Context) (datastore.Batch, error) {
	return datastore.NewBasicBatch(b.Datastore), nil
}

// openDatastore returns the datastore for ledger leaves and archived
// snapshots: on disk next to the sqlite database, or in memory.
func openDatastore(kind, dataDir string) (datastore.Batching, error) {
	if kind == "memory" {
		return dssync.MutexWrap(datastore.NewMapDatastore()), nil
	}
	dir := filepath.Join(dataDir, "ledger")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	fs, err := dsexamples.NewDatastore(dir)
	if err != nil {
		return nil, fmt.Errorf("open ledger datastore: %w", err)
	}
	return dssync.MutexWrap(batching{fs}), nil
}

// newAnchorer builds the configured anchorer. The ledger is returned
// separately so its checkpoint can be served.
func newAnchorer(ctx context.Context, kind string, ds datastore.Datastore, key ed25519.PrivateKey, logger *slog.Logger) (anchor.Anchorer, *tlog.Ledger, error) {
	switch kind {
	case "none":
		return nil, nil, nil
	case "ledger":
		origin := getEnv("TRUSTKIT_LEDGER_ORIGIN", "trustkit/ledger")
		s, err := tlog.NewEd25519Signer(key, origin)
		if err != nil {
			return nil, nil, fmt.Errorf("create checkpoint signer: %w", err)
		}
		l, err := tlog.NewLedger(ctx, tlog.Config{Origin: origin, Signer: s, Datastore: ds, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return l, l, nil
	case "ethereum":
		a, err := newEthereumAnchorer(logger)
		if err != nil {
			return nil, nil, err
		}
		return a, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown TRUSTKIT_ANCHOR %q (want ledger, ethereum or none)", kind)
	}
}

func newEthereumAnchorer(logger *slog.Logger) (*ethereum.Anchorer, error) {
	rpc := os.Getenv("TRUSTKIT_ETH_RPC")
	if rpc == "" {
		return nil, errors.New("TRUSTKIT_ETH_RPC is required for ethereum anchoring")
	}
	key, err := loadEthereumKey()
	if err != nil {
		return nil, err
	}
	chainID, err := strconv.ParseInt(os.Getenv("TRUSTKIT_CHAIN_ID"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("TRUSTKIT_CHAIN_ID must be numeric for ethereum anchoring: %w", err)
	}
	client, err := ethclient.Dial(rpc)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpc, err)
	}
	return ethereum.New(ethereum.Config{
		Client:  client,
		Key:     key,
		ChainID: chainID,
		To:      os.Getenv("TRUSTKIT_ETH_TO"),
		Logger:  logger,
	})
}

func loadEthereumKey() (*ecdsa.PrivateKey, error) {
	raw := os.Getenv("TRUSTKIT_ETH_KEY")
	if raw == "" {
		return nil, errors.New("TRUSTKIT_ETH_KEY is required for ethereum anchoring")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode TRUSTKIT_ETH_KEY: %w", err)
	}
	return key, nil
}

// anchorStrategy builds the strategy from the environment and returns the
// scheduler interval.
func anchorStrategy() (anchor.Strategy, time.Duration, error) {
	interval, err := time.ParseDuration(getEnv("TRUSTKIT_ANCHOR_INTERVAL", "1h"))
	if err != nil {
		return nil, 0, fmt.Errorf("TRUSTKIT_ANCHOR_INTERVAL: %w", err)
	}
	maxUpdates, err := strconv.ParseUint(getEnv("TRUSTKIT_ANCHOR_MAX_UPDATES", "100"), 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("TRUSTKIT_ANCHOR_MAX_UPDATES: %w", err)
	}
	periodic := anchor.Periodic{Interval: interval, MaxUpdates: maxUpdates}

	tick := interval / 4
	if tick < time.Second {
		tick = time.Second
	}
	switch s := getEnv("TRUSTKIT_ANCHOR_STRATEGY", "periodic"); s {
	case "periodic":
		return periodic, tick, nil
	case "lazy":
		return anchor.Lazy{MaxStaleness: interval}, tick, nil
	case "hybrid":
		return anchor.Hybrid{Periodic: periodic, ForceAnchorOnVerify: true}, tick, nil
	default:
		return nil, 0, fmt.Errorf("unknown TRUSTKIT_ANCHOR_STRATEGY %q", s)
	}
}

