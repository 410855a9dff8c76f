package types

// Network identifies the blockchain a payment is sent on.
type Network string

const (
	// Solana networks
	NetworkSolanaMainnet Network = "solana-mainnet"
	NetworkSolanaDevnet  Network = "solana-devnet" // testnet

	// EVM networks
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
	NetworkPolygon     Network = "polygon"
	NetworkPolygonAmoy Network = "polygon-amoy" // testnet
)

// SolMint is the native SOL mint address. Payments against it use a
// system transfer instead of an SPL token transfer, and it is the
// default funding asset sold when a swap is needed.
const SolMint = "So11111111111111111111111111111111111111112"

// ChainFamily classifies a network into a blockchain family.
type ChainFamily string

const (
	ChainEVM    ChainFamily = "evm"
	ChainSolana ChainFamily = "solana"
)

func (n Network) IsSolana() bool {
	return n == NetworkSolanaMainnet || n == NetworkSolanaDevnet
}

func (n Network) IsEVM() bool {
	return n == NetworkBase || n == NetworkBaseSepolia || n == NetworkPolygon || n == NetworkPolygonAmoy
}

func (n Network) IsTestnet() bool {
	return n == NetworkSolanaDevnet || n == NetworkBaseSepolia || n == NetworkPolygonAmoy
}

// Family returns the chain family, or "" for unknown networks.
func (n Network) Family() ChainFamily {
	switch {
	case n.IsSolana():
		return ChainSolana
	case n.IsEVM():
		return ChainEVM
	default:
		return ""
	}
}

func (n Network) String() string {
	return string(n)
}

// NormalizeNetwork maps the loose network names found in 402 bodies to
// canonical Network values. MoltyDEX responses carry scheme "solana"
// with network "mainnet" (or nothing); the x402 spec carries canonical
// names already. Unknown names pass through so client Supports checks
// can make the final call.
func NormalizeNetwork(scheme, network string) Network {
	switch network {
	case "", "mainnet":
		if scheme == SchemeSolana {
			return NetworkSolanaMainnet
		}
	case "solana":
		return NetworkSolanaMainnet
	case "devnet", "solana-devnet":
		return NetworkSolanaDevnet
	}
	return Network(network)
}

// KnownChainID returns the chain id for EVM networks this library
// recognizes, sparing an RPC round trip during client construction.
func KnownChainID(n Network) (int64, bool) {
	switch n {
	case NetworkBase:
		return 8453, true
	case NetworkBaseSepolia:
		return 84532, true
	case NetworkPolygon:
		return 137, true
	case NetworkPolygonAmoy:
		return 80002, true
	default:
		return 0, false
	}
}
