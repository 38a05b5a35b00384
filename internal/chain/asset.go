package chain

import (
	"github.com/gagliardetto/solana-go"
)

// Asset describes a transferable asset: either the chain-native token or an
// SPL token identified by its mint. Amounts are carried as decimals everywhere
// above this package and converted to base units only when a transaction is built.
type Asset struct {
	Symbol   string
	Decimals int32
	Mint     solana.PublicKey
	Native   bool
}

var supportedAssets = map[string]Asset{
	"SOL": {
		Symbol:   "SOL",
		Decimals: 9,
		Native:   true,
	},
	"USDC": {
		Symbol:   "USDC",
		Decimals: 6,
		Mint:     solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
	},
	"USDT": {
		Symbol:   "USDT",
		Decimals: 6,
		Mint:     solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"),
	},
}

func AssetBySymbol(symbol string) (Asset, bool) {
	asset, ok := supportedAssets[symbol]
	return asset, ok
}

func AssetSymbols() []string {
	symbols := make([]string, 0, len(supportedAssets))
	for symbol := range supportedAssets {
		symbols = append(symbols, symbol)
	}
	return symbols
}
