package main

import (
	"testing"
	"time"

	"github.com/brojonat/walletlink/service/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJQFilterMatching(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	connected := wallet.State{
		Wallet: wallet.NewConnected(wallet.ChainSolana, "phantom", "So11111111111111111111111111111111111111112", at),
	}
	idle := wallet.State{Wallet: wallet.Disconnected()}

	tests := []struct {
		name        string
		state       wallet.State
		filters     []string
		expectMatch bool
		expectErr   bool
	}{
		{
			name:        "chain match",
			state:       connected,
			filters:     []string{`.wallet.chain == "solana"`},
			expectMatch: true,
		},
		{
			name:        "chain mismatch",
			state:       connected,
			filters:     []string{`.wallet.chain == "ethereum"`},
			expectMatch: false,
		},
		{
			name:        "sentinel chain is null",
			state:       idle,
			filters:     []string{`.wallet.chain == null`},
			expectMatch: true,
		},
		{
			name:        "all filters must match",
			state:       connected,
			filters:     []string{`.wallet.connected`, `.wallet.walletKind == "backpack"`},
			expectMatch: false,
		},
		{
			name:        "non-boolean result is truthy",
			state:       connected,
			filters:     []string{`.wallet.address`},
			expectMatch: true,
		},
		{
			name:        "null result is falsy",
			state:       idle,
			filters:     []string{`.wallet.address`},
			expectMatch: false,
		},
		{
			name:        "empty result does not match",
			state:       connected,
			filters:     []string{`empty`},
			expectMatch: false,
		},
		{
			name:      "runtime error",
			state:     connected,
			filters:   []string{`.wallet.address | tonumber`},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes, err := compileFilters(tt.filters)
			require.NoError(t, err)

			v, err := jqValue(tt.state)
			require.NoError(t, err)

			matched, err := matchAll(codes, v)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectMatch, matched)
		})
	}
}

func TestCompileFiltersRejectsBadSyntax(t *testing.T) {
	_, err := compileFilters([]string{".wallet", ".["})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `".["`)
}

func TestRunFilter(t *testing.T) {
	code, err := compileFilters([]string{`.[] | ascii_upcase`})
	require.NoError(t, err)

	out, err := runFilter(code[0], []any{"petra", "pontem"})
	require.NoError(t, err)
	assert.Equal(t, []any{"PETRA", "PONTEM"}, out)
}
