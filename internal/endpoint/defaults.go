package endpoint

import "tx-guard/internal/domain"

// DefaultEndpoints is the static endpoint list registered at startup.
var DefaultEndpoints = []domain.RPCEndpoint{
	{
		URL:      "https://api.mainnet-beta.solana.com",
		WSURL:    "wss://api.mainnet-beta.solana.com",
		Name:     "Solana Mainnet",
		Network:  domain.NetworkMainnet,
		Priority: 1,
		Weight:   1.0,
	},
	{
		URL:      "https://rpc.ankr.com/solana",
		Name:     "Ankr Mainnet",
		Network:  domain.NetworkMainnet,
		Priority: 2,
		Weight:   0.9,
	},
	{
		URL:      "https://api.devnet.solana.com",
		WSURL:    "wss://api.devnet.solana.com",
		Name:     "Solana Devnet",
		Network:  domain.NetworkDevnet,
		Priority: 1,
		Weight:   1.0,
	},
	{
		URL:      "https://rpc.ankr.com/solana_devnet",
		Name:     "Ankr Devnet",
		Network:  domain.NetworkDevnet,
		Priority: 2,
		Weight:   0.9,
	},
	{
		URL:      "https://api.testnet.solana.com",
		WSURL:    "wss://api.testnet.solana.com",
		Name:     "Solana Testnet",
		Network:  domain.NetworkTestnet,
		Priority: 1,
		Weight:   1.0,
	},
}
