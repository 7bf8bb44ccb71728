package bridge

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Brand is one row of a chain's wallet brand table.
type Brand struct {
	Kind  string
	Match []string
}

// Resolve maps an SDK connector name onto a wallet kind. Names are matched
// case-insensitively against table in order, where a match must start a word
// ("rise" matches "Rise Wallet" but not "Sunrise"). The first match wins and
// unmatched names resolve to fallback.
func Resolve(name string, table []Brand, fallback string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return fallback
	}
	for _, b := range table {
		for _, m := range b.Match {
			if containsWordStart(lower, m) {
				return b.Kind
			}
		}
	}
	return fallback
}

func containsWordStart(s, sub string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], sub)
		if j < 0 {
			return false
		}
		at := i + j
		if prev, _ := utf8.DecodeLastRuneInString(s[:at]); at == 0 || !isWordRune(prev) {
			return true
		}
		i = at + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

var ethereumBrands = []Brand{
	{Kind: "metamask", Match: []string{"metamask", "meta mask"}},
	{Kind: "coinbase", Match: []string{"coinbase"}},
	{Kind: "walletconnect", Match: []string{"walletconnect", "wallet connect"}},
	{Kind: "rainbow", Match: []string{"rainbow"}},
	{Kind: "rabby", Match: []string{"rabby"}},
	{Kind: "trust", Match: []string{"trust"}},
	{Kind: "okx", Match: []string{"okx"}},
	{Kind: "brave", Match: []string{"brave"}},
	{Kind: "ledger", Match: []string{"ledger"}},
}

var solanaBrands = []Brand{
	{Kind: "phantom", Match: []string{"phantom"}},
	{Kind: "solflare", Match: []string{"solflare"}},
	{Kind: "backpack", Match: []string{"backpack"}},
	{Kind: "glow", Match: []string{"glow"}},
	{Kind: "coinbase", Match: []string{"coinbase"}},
	{Kind: "trust", Match: []string{"trust"}},
	{Kind: "okx", Match: []string{"okx"}},
	{Kind: "ledger", Match: []string{"ledger"}},
}

var bitcoinBrands = []Brand{
	{Kind: "unisat", Match: []string{"unisat"}},
	{Kind: "xverse", Match: []string{"xverse"}},
	{Kind: "leather", Match: []string{"leather", "hiro"}},
	{Kind: "okx", Match: []string{"okx"}},
	{Kind: "phantom", Match: []string{"phantom"}},
	{Kind: "magiceden", Match: []string{"magic eden", "magiceden"}},
}

var moveBrands = []Brand{
	{Kind: "petra", Match: []string{"petra"}},
	{Kind: "martian", Match: []string{"martian"}},
	{Kind: "pontem", Match: []string{"pontem"}},
	{Kind: "nightly", Match: []string{"nightly"}},
	{Kind: "fewcha", Match: []string{"fewcha"}},
	{Kind: "rise", Match: []string{"rise"}},
	{Kind: "okx", Match: []string{"okx"}},
}

// Fallback labels for connector names no brand matches.
const (
	EthereumFallback = "injected"
	SolanaFallback   = "solana-wallet"
	BitcoinFallback  = "bitcoin-wallet"
	MoveFallback     = "move-wallet"
)
