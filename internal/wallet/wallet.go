// Package wallet manages the farmed wallets: credentials, proxy assignment
// and per-wallet chain access.
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/stakefarm/pkg/types"
)

// Wallet holds one wallet's key material and routing. Immutable for the
// process lifetime.
type Wallet struct {
	Index      int
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
	Proxy      *url.URL // nil = direct connection
}

// NewWallet derives a wallet from a hex-encoded private key. A 0x prefix and
// surrounding whitespace are tolerated.
func NewWallet(index int, hexKey string) (*Wallet, error) {
	hexKey = strings.TrimSpace(hexKey)
	hexKey = strings.TrimPrefix(hexKey, "0x")

	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &Wallet{
		Index:      index,
		PrivateKey: privateKey,
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Info returns the wallet's public description. Proxy credentials are
// stripped.
func (w *Wallet) Info() types.WalletInfo {
	info := types.WalletInfo{
		Index:   w.Index,
		Address: w.Address.Hex(),
	}
	if w.Proxy != nil {
		redacted := *w.Proxy
		redacted.User = nil
		info.ProxyURL = redacted.String()
	}
	return info
}
