package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/stakefarm/internal/config"
	"github.com/gateway-fm/stakefarm/internal/contracts"
	"github.com/gateway-fm/stakefarm/internal/ratelimit"
	"github.com/gateway-fm/stakefarm/internal/rpc"
	"github.com/gateway-fm/stakefarm/pkg/types"
)

// Manager pairs each wallet with its chain client and reads balances.
type Manager struct {
	wallets []*Wallet
	clients []rpc.Client
	logger  *slog.Logger
}

// NewManager creates a manager for the given wallets and their clients. The
// two slices are positional: clients[i] serves wallets[i].
func NewManager(wallets []*Wallet, clients []rpc.Client, logger *slog.Logger) (*Manager, error) {
	if len(wallets) != len(clients) {
		return nil, fmt.Errorf("wallet/client count mismatch: %d vs %d", len(wallets), len(clients))
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		wallets: wallets,
		clients: clients,
		logger:  logger,
	}, nil
}

// BuildClients constructs one RPC client per wallet, routed through the
// wallet's proxy and paced by its own limiter.
func BuildClients(cfg *config.Config, wallets []*Wallet, logger *slog.Logger) ([]rpc.Client, error) {
	clients := make([]rpc.Client, 0, len(wallets))
	for _, w := range wallets {
		httpClient, err := HTTPClientFor(w.Proxy)
		if err != nil {
			return nil, fmt.Errorf("wallet %d: %w", w.Index, err)
		}

		clientCfg := rpc.DefaultClientConfig(cfg.RPCURL)
		clientCfg.HTTPClient = httpClient
		clientCfg.Pacer = ratelimit.New(cfg.RPCRateLimit)
		clientCfg.Logger = logger
		clients = append(clients, rpc.NewHTTPClient(clientCfg))
	}
	return clients, nil
}

// Wallets returns the loaded wallets in registration order.
func (m *Manager) Wallets() []*Wallet {
	return m.wallets
}

// Client returns the chain client serving the given wallet index.
func (m *Manager) Client(index int) rpc.Client {
	return m.clients[index]
}

// Balances holds one wallet's balances in wei.
type Balances struct {
	Native *big.Int
	Weth   *big.Int
	Exeth  *big.Int
}

// ReadBalances fetches native, WETH and exETH balances for a wallet.
func (m *Manager) ReadBalances(ctx context.Context, w *Wallet) (*Balances, error) {
	client := m.clients[w.Index]

	native, err := client.GetBalance(ctx, w.Address.Hex())
	if err != nil {
		return nil, fmt.Errorf("native balance: %w", err)
	}

	weth, err := tokenBalance(ctx, client, contracts.WETH, w.Address)
	if err != nil {
		return nil, fmt.Errorf("weth balance: %w", err)
	}

	exeth, err := tokenBalance(ctx, client, contracts.ExETH, w.Address)
	if err != nil {
		return nil, fmt.Errorf("exeth balance: %w", err)
	}

	return &Balances{Native: native, Weth: weth, Exeth: exeth}, nil
}

func tokenBalance(ctx context.Context, client rpc.Client, token, owner common.Address) (*big.Int, error) {
	ret, err := client.CallContract(ctx, token.Hex(), contracts.EncodeBalanceOf(owner))
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return big.NewInt(0), nil
	}
	return contracts.DecodeUint256(ret)
}

// SnapshotAll reads every wallet's balances. Wallets whose reads fail are
// logged and skipped; the snapshot is best-effort.
func (m *Manager) SnapshotAll(ctx context.Context) []types.BalanceReading {
	readings := make([]types.BalanceReading, 0, len(m.wallets))
	now := time.Now().UTC()

	for _, w := range m.wallets {
		balances, err := m.ReadBalances(ctx, w)
		if err != nil {
			m.logger.Warn("balance snapshot failed",
				slog.Int("wallet", w.Index),
				slog.String("address", w.Address.Hex()[:10]),
				slog.String("error", err.Error()),
			)
			continue
		}
		readings = append(readings, types.BalanceReading{
			WalletIndex: w.Index,
			Address:     w.Address.Hex(),
			Native:      balances.Native.String(),
			Weth:        balances.Weth.String(),
			Exeth:       balances.Exeth.String(),
			TakenAt:     now,
		})
		m.logger.Debug("balance snapshot",
			slog.Int("wallet", w.Index),
			slog.String("native", balances.Native.String()),
			slog.String("weth", balances.Weth.String()),
			slog.String("exeth", balances.Exeth.String()),
		)
	}
	return readings
}
