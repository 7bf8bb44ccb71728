package bridge

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		table    []Brand
		fallback string
		input    string
		want     string
	}{
		{"metamask mixed case", ethereumBrands, EthereumFallback, "MetaMask", "metamask"},
		{"metamask as substring", ethereumBrands, EthereumFallback, "io.metamask.extension", "metamask"},
		{"coinbase wallet", ethereumBrands, EthereumFallback, "Coinbase Wallet", "coinbase"},
		{"unknown injected", ethereumBrands, EthereumFallback, "Frame", "injected"},
		{"empty name", ethereumBrands, EthereumFallback, "  ", "injected"},
		{"first match wins", ethereumBrands, EthereumFallback, "Trust via WalletConnect", "walletconnect"},
		{"phantom on solana", solanaBrands, SolanaFallback, "Phantom", "phantom"},
		{"unknown solana", solanaBrands, SolanaFallback, "Exodus", "solana-wallet"},
		{"leather legacy name", bitcoinBrands, BitcoinFallback, "Hiro Wallet", "leather"},
		{"magic eden spaced", bitcoinBrands, BitcoinFallback, "Magic Eden", "magiceden"},
		{"petra", moveBrands, MoveFallback, "Petra Aptos Wallet", "petra"},
		{"unknown move", moveBrands, MoveFallback, "Suiet", "move-wallet"},
		{"rise wallet", moveBrands, MoveFallback, "Rise Wallet", "rise"},
		{"brand inside a word", moveBrands, MoveFallback, "Sunrise", "move-wallet"},
		{"brand ending a word", moveBrands, MoveFallback, "Enterprise Wallet", "move-wallet"},
		{"brand after punctuation", moveBrands, MoveFallback, "aptos.rise", "rise"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.input, tt.table, tt.fallback))
		})
	}
}

func TestCanonicalEthereum(t *testing.T) {
	got, err := CanonicalEthereum("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", got)

	for _, bad := range []string{"", "0x123", "not an address", "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"} {
		_, err := CanonicalEthereum(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestCanonicalSolana(t *testing.T) {
	const key = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	got, err := CanonicalSolana(" " + key + " ")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	for _, bad := range []string{"", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "0OIl"} {
		_, err := CanonicalSolana(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestCanonicalBitcoin(t *testing.T) {
	mainnet := CanonicalBitcoin(&chaincfg.MainNetParams)

	got, err := mainnet("1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2")
	require.NoError(t, err)
	assert.Equal(t, "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", got)

	got, err = mainnet(" bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq")
	require.NoError(t, err)
	assert.Equal(t, "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", got)

	_, err = mainnet("")
	assert.Error(t, err)
	_, err = mainnet("bc1qnotreal")
	assert.Error(t, err)

	_, err = CanonicalBitcoin(&chaincfg.TestNet3Params)("bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq")
	assert.Error(t, err, "mainnet address rejected on testnet")
}

func TestCanonicalMove(t *testing.T) {
	const long = "0x8f396e4246b2ba87b51c0739ef5ea4f26515a98375308c31ac2ec1e42142a57f"

	got, err := CanonicalMove("8F396E4246B2BA87B51C0739EF5EA4F26515A98375308C31AC2EC1E42142A57F")
	require.NoError(t, err)
	assert.Equal(t, long, got)

	for _, bad := range []string{"", "0xzz", "0x" + long[2:] + "00"} {
		_, err := CanonicalMove(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestBitcoinNetwork(t *testing.T) {
	for name, want := range map[string]*chaincfg.Params{
		"":        &chaincfg.MainNetParams,
		"mainnet": &chaincfg.MainNetParams,
		"testnet": &chaincfg.TestNet3Params,
		"signet":  &chaincfg.SigNetParams,
		"REGTEST": &chaincfg.RegressionNetParams,
	} {
		got, err := BitcoinNetwork(name)
		require.NoError(t, err)
		assert.Equal(t, want.Name, got.Name)
	}
	_, err := BitcoinNetwork("litecoin")
	assert.Error(t, err)
}
