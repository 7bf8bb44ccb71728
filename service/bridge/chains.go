package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/brojonat/walletlink/service/metrics"
	"github.com/brojonat/walletlink/service/sdk"
	"github.com/brojonat/walletlink/service/store"
	"github.com/brojonat/walletlink/service/wallet"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

var errEmptyAccount = errors.New("empty account")

// NewEthereum creates the Ethereum-family bridge.
func NewEthereum(st *store.Store, src sdk.Source, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	return New(EthereumSpec(), st, src, logger, m)
}

// NewSolana creates the Solana-family bridge.
func NewSolana(st *store.Store, src sdk.Source, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	return New(SolanaSpec(), st, src, logger, m)
}

// NewBitcoin creates the Bitcoin-family bridge. Addresses must belong to net.
func NewBitcoin(st *store.Store, src sdk.Source, net *chaincfg.Params, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	return New(BitcoinSpec(net), st, src, logger, m)
}

// NewMove creates the Move-family bridge.
func NewMove(st *store.Store, src sdk.Source, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	return New(MoveSpec(), st, src, logger, m)
}

func EthereumSpec() ChainSpec {
	return ChainSpec{
		Chain:     wallet.ChainEthereum,
		Brands:    ethereumBrands,
		Fallback:  EthereumFallback,
		Canonical: CanonicalEthereum,
	}
}

func SolanaSpec() ChainSpec {
	return ChainSpec{
		Chain:     wallet.ChainSolana,
		Brands:    solanaBrands,
		Fallback:  SolanaFallback,
		Canonical: CanonicalSolana,
	}
}

func BitcoinSpec(net *chaincfg.Params) ChainSpec {
	return ChainSpec{
		Chain:     wallet.ChainBitcoin,
		Brands:    bitcoinBrands,
		Fallback:  BitcoinFallback,
		Canonical: CanonicalBitcoin(net),
	}
}

func MoveSpec() ChainSpec {
	return ChainSpec{
		Chain:     wallet.ChainMove,
		Brands:    moveBrands,
		Fallback:  MoveFallback,
		Canonical: CanonicalMove,
	}
}

// CanonicalEthereum returns the EIP-55 checksummed form of a hex address.
func CanonicalEthereum(account string) (string, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return "", errEmptyAccount
	}
	if !common.IsHexAddress(account) {
		return "", fmt.Errorf("not a hex address: %q", account)
	}
	return common.HexToAddress(account).Hex(), nil
}

// CanonicalSolana checks that account is a base58 public key.
func CanonicalSolana(account string) (string, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return "", errEmptyAccount
	}
	pk, err := solana.PublicKeyFromBase58(account)
	if err != nil {
		return "", fmt.Errorf("invalid solana public key: %w", err)
	}
	return pk.String(), nil
}

// CanonicalBitcoin returns a canonicalizer that accepts only addresses
// encoded for net.
func CanonicalBitcoin(net *chaincfg.Params) Canonicalizer {
	if net == nil {
		net = &chaincfg.MainNetParams
	}
	return func(account string) (string, error) {
		account = strings.TrimSpace(account)
		if account == "" {
			return "", errEmptyAccount
		}
		addr, err := btcutil.DecodeAddress(account, net)
		if err != nil {
			return "", fmt.Errorf("invalid bitcoin address: %w", err)
		}
		if !addr.IsForNet(net) {
			return "", fmt.Errorf("address %q is not for %s", account, net.Name)
		}
		return addr.EncodeAddress(), nil
	}
}

// CanonicalMove parses a Move account address, with or without the 0x
// prefix and leading zeros.
func CanonicalMove(account string) (string, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return "", errEmptyAccount
	}
	var addr aptos.AccountAddress
	if err := addr.ParseStringRelaxed(account); err != nil {
		return "", fmt.Errorf("invalid move address: %w", err)
	}
	return addr.String(), nil
}

// BitcoinNetwork maps a network name onto its chain parameters.
func BitcoinNetwork(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", name)
	}
}
