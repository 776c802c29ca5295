// Staking farm command line interface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gateway-fm/stakefarm/internal/config"
	"github.com/gateway-fm/stakefarm/internal/metrics"
	"github.com/gateway-fm/stakefarm/internal/rpc"
	"github.com/gateway-fm/stakefarm/internal/scheduler"
	"github.com/gateway-fm/stakefarm/internal/storage"
	"github.com/gateway-fm/stakefarm/internal/transport"
	"github.com/gateway-fm/stakefarm/internal/wallet"
	"github.com/gateway-fm/stakefarm/pkg/types"
)

// Flag names
const (
	FlagConfigFile = "config-file"
	FlagWallets    = "wallets"
	FlagProxies    = "proxies"
	FlagRPCURL     = "rpc-url"
	FlagLogLevel   = "log-level"
)

var (
	flagConfigFile string
	flagWallets    string
	flagProxies    string
	flagRPCURL     string
	flagLogLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stakefarm",
		Short: "Sepolia staking cycle automation",
		Long: `stakefarm drives stake, unstake and claim cycles across a set of wallets
against the Sepolia staking contracts. Wallets are loaded from a
newline-delimited private key file, optionally paired line-by-line with
outbound proxies.`,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfigFile, FlagConfigFile, "", "path to the run configuration JSON file")
	rootCmd.PersistentFlags().StringVar(&flagWallets, FlagWallets, "", "path to the newline-delimited private key file")
	rootCmd.PersistentFlags().StringVar(&flagProxies, FlagProxies, "", "path to the newline-delimited proxy URL file")
	rootCmd.PersistentFlags().StringVar(&flagRPCURL, FlagRPCURL, "", "Sepolia RPC endpoint URL")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, FlagLogLevel, "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd(), cycleCmd(), wrapCmd(), unwrapCmd(), configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads environment configuration and applies flag overrides on
// top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagConfigFile != "" {
		cfg.RunConfigPath = flagConfigFile
	}
	if flagWallets != "" {
		cfg.WalletFilePath = flagWallets
	}
	if flagProxies != "" {
		cfg.ProxyFilePath = flagProxies
	}
	if flagRPCURL != "" {
		cfg.RPCURL = flagRPCURL
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// buildSession wires wallets, RPC clients and the run configuration into a
// scheduler session. store and m may be nil for one-shot commands.
func buildSession(cfg *config.Config, logger *slog.Logger, store storage.Store, m *metrics.Metrics) (*scheduler.Session, *wallet.Manager, error) {
	wallets, err := wallet.LoadWallets(cfg.WalletFilePath, cfg.ProxyFilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("load wallets: %w", err)
	}
	clients, err := wallet.BuildClients(cfg, wallets, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build rpc clients: %w", err)
	}
	manager, err := wallet.NewManager(wallets, clients, logger)
	if err != nil {
		return nil, nil, err
	}

	runStore := config.NewRunConfigStore(cfg.RunConfigPath)
	runCfg, err := runStore.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load run config: %w", err)
	}

	session := scheduler.New(scheduler.Config{
		Network:     config.NetworkName,
		ChainID:     cfg.ChainID,
		Wallets:     manager,
		RunConfig:   runCfg,
		ConfigStore: runStore,
		Store:       store,
		Metrics:     m,
		Logger:      logger,
	})
	return session, manager, nil
}

// rpcHealth reports readiness by asking the first wallet's RPC client for the
// latest block.
type rpcHealth struct {
	client rpc.Client
}

func (h *rpcHealth) CheckRPC() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := h.client.GetLatestBlock(ctx)
	return err
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the farm with the HTTP API",
		Long: `Starts the scheduler and serves the HTTP API, WebSocket event stream and
Prometheus metrics until interrupted. Cycles only run once started through
the API.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Printf("Error loading config: %v\n", err)
				os.Exit(1)
			}
			logger := newLogger(cfg)

			store, err := storage.NewSQLiteStore(cfg.DatabasePath)
			if err != nil {
				logger.Error("failed to initialize storage", "error", err, "path", cfg.DatabasePath)
				os.Exit(1)
			}
			defer store.Close()

			m := metrics.New(prometheus.DefaultRegisterer)
			session, manager, err := buildSession(cfg, logger, store, m)
			if err != nil {
				logger.Error("failed to build session", "error", err)
				os.Exit(1)
			}

			// Take a balance snapshot right away so the API reports
			// balances before the first cycle runs.
			go session.SnapshotNow(context.Background())

			server := transport.NewServer(session, &rpcHealth{client: manager.Client(0)}, logger, cfg.CORSAllowedOrigins)

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				logger.Info("shutting down...")
				session.Stop()
				session.Drain()
				server.Close()
				store.Close()
				os.Exit(0)
			}()

			logger.Info("starting HTTP server",
				"addr", cfg.ListenAddr,
				"network", config.NetworkName,
				"wallets", len(manager.Wallets()))
			if err := http.ListenAndServe(cfg.ListenAddr, server.Handler()); err != nil {
				logger.Error("HTTP server failed", "error", err)
				os.Exit(1)
			}
		},
	}
}

func cycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run staking cycles in the foreground",
		Long: `Runs stake, unstake and claim cycles until interrupted. SIGINT or SIGTERM
requests a stop and waits for the in-flight operation to finish before
exiting.`,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Printf("Error loading config: %v\n", err)
				os.Exit(1)
			}
			logger := newLogger(cfg)

			store, err := storage.NewSQLiteStore(cfg.DatabasePath)
			if err != nil {
				logger.Error("failed to initialize storage", "error", err, "path", cfg.DatabasePath)
				os.Exit(1)
			}
			defer store.Close()

			session, _, err := buildSession(cfg, logger, store, nil)
			if err != nil {
				logger.Error("failed to build session", "error", err)
				os.Exit(1)
			}

			if err := session.Start(); err != nil {
				logger.Error("failed to start cycles", "error", err)
				os.Exit(1)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan
			logger.Info("shutting down...")
			session.Stop()
			session.Drain()

			status := session.Status()
			logger.Info("cycles finished",
				"attempted", status.Attempted,
				"confirmed", status.Confirmed,
				"failed", status.Failed)
		},
	}
}

func wrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wrap <wallet-index> <amount>",
		Short: "Wrap native ETH into WETH for one wallet",
		Long:  "Wraps the given amount of native ETH into WETH on the wallet at the given\nindex and waits for the transaction to confirm.",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			runOneOff(types.OpWrap, args)
		},
	}
}

func unwrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unwrap <wallet-index> <amount>",
		Short: "Unwrap WETH back into native ETH for one wallet",
		Long:  "Unwraps the given amount of WETH into native ETH on the wallet at the given\nindex and waits for the transaction to confirm.",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			runOneOff(types.OpUnwrap, args)
		},
	}
}

// runOneOff submits a wrap or unwrap and blocks until its terminal event
// arrives on the session's event stream.
func runOneOff(kind types.OperationKind, args []string) {
	walletIndex, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Printf("Error: invalid wallet index %q\n", args[0])
		os.Exit(1)
	}
	amount, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fmt.Printf("Error: invalid amount %q\n", args[1])
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	session, _, err := buildSession(cfg, logger, nil, nil)
	if err != nil {
		logger.Error("failed to build session", "error", err)
		os.Exit(1)
	}

	// Subscribe before submitting so the terminal event cannot be missed.
	events, cancel := session.Subscribe()
	defer cancel()

	submit := session.Wrap
	if kind == types.OpUnwrap {
		submit = session.Unwrap
	}
	if err := submit(walletIndex, amount); err != nil {
		logger.Error("submit failed", "kind", kind, "error", err)
		os.Exit(1)
	}

	for ev := range events {
		if ev.Kind != kind || ev.WalletIndex != walletIndex {
			continue
		}
		switch ev.Status {
		case types.OpStatusConfirmed:
			logger.Info("operation confirmed",
				"kind", kind,
				"wallet", walletIndex,
				"txHash", ev.TxHash)
			return
		case types.OpStatusReverted, types.OpStatusTimedOut, types.OpStatusFailed:
			logger.Error("operation failed",
				"kind", kind,
				"wallet", walletIndex,
				"status", ev.Status,
				"message", ev.Message)
			os.Exit(1)
		}
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective run configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Printf("Error loading config: %v\n", err)
				os.Exit(1)
			}
			runCfg, err := config.NewRunConfigStore(cfg.RunConfigPath).Load()
			if err != nil {
				fmt.Printf("Error loading run config: %v\n", err)
				os.Exit(1)
			}
			out, err := json.MarshalIndent(runCfg, "", "  ")
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(out))
		},
	}
}
