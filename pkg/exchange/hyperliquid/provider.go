package hyperliquid

import (
	"net/http"

	"perpcore/pkg/exchange"
)

// Client satisfies the provider boundary directly.
var _ exchange.Provider = (*Client)(nil)

func init() {
	exchange.Register("hyperliquid", func(name string, cfg *exchange.ProviderConfig) (exchange.Provider, error) {
		opts := []Option{}
		if cfg.Timeout > 0 {
			opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		if cfg.VaultAddress != "" {
			opts = append(opts, WithVaultAddress(cfg.VaultAddress))
		}
		if cfg.WalletAddress != "" {
			opts = append(opts, WithAccountAddress(cfg.WalletAddress))
		}
		return NewClient(cfg.PrivateKey, cfg.Testnet, opts...)
	})
}
