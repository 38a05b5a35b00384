package chain

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestIsValidAddress(t *testing.T) {
	wallet := solana.NewWallet()
	require.True(t, IsValidAddress(wallet.PublicKey().String()))

	// program derived addresses are off the ed25519 curve and cannot hold a
	// signing key
	usdc, _ := AssetBySymbol("USDC")
	derived, _, err := solana.FindAssociatedTokenAddress(wallet.PublicKey(), usdc.Mint)
	require.NoError(t, err)

	tests := []struct {
		name    string
		address string
	}{
		{"empty", ""},
		{"not base58", "l0IO-not-base58"},
		{"too short", "abc"},
		{"evm address", "0x52908400098527886E0F7030069857D2E4169EE7"},
		{"off curve", derived.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.False(t, IsValidAddress(tt.address))
		})
	}
}

func TestIsValidSecondaryAddress(t *testing.T) {
	require.True(t, IsValidSecondaryAddress("0x52908400098527886E0F7030069857D2E4169EE7"))
	require.True(t, IsValidSecondaryAddress("0x8617e340b3d01fa5f11f306f4090fd50e238070d"))

	require.False(t, IsValidSecondaryAddress(""))
	require.False(t, IsValidSecondaryAddress("0x123"))
	require.False(t, IsValidSecondaryAddress("52908400098527886E0F7030069857D2E4169EE7"))
	require.False(t, IsValidSecondaryAddress(solana.NewWallet().PublicKey().String()))
}

func TestAssetBySymbol(t *testing.T) {
	usdc, ok := AssetBySymbol("USDC")
	require.True(t, ok)
	require.EqualValues(t, 6, usdc.Decimals)
	require.False(t, usdc.Native)

	sol, ok := AssetBySymbol("SOL")
	require.True(t, ok)
	require.True(t, sol.Native)

	_, ok = AssetBySymbol("DOGE")
	require.False(t, ok)
}
