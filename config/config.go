// Package config declares the faucet configuration. All monetary
// thresholds are base-unit integer strings; decimals govern display only.
package config

import (
	"fmt"
	"math/big"
)

// CW is the CosmWasm faucet configuration block. Field names map one to
// one to the cw* configuration keys.
type CW struct {
	RPCHost        []string `mapstructure:"rpcHost"`
	AddressPrefix  string   `mapstructure:"addressPrefix"`
	WalletMnemonic string   `mapstructure:"walletMnemonic"`
	GasPrice       string   `mapstructure:"gasPrice"`
	Denom          string   `mapstructure:"denom"`
	Decimals       int      `mapstructure:"decimals"`
	Symbol         string   `mapstructure:"symbol"`
	IsNativeToken  bool     `mapstructure:"isNativeToken"`
	// ContractAddress is the CW20-style token contract; empty when the
	// faucet dispenses the native denom.
	ContractAddress string `mapstructure:"contractAddress"`
	GasAmount       string `mapstructure:"gasAmount"`
	GasLimit        uint64 `mapstructure:"gasLimit"`
	MinGasAmount    string `mapstructure:"minGasAmount"`
	MinAmount       string `mapstructure:"minAmount"`
	MaxAmount       string `mapstructure:"maxAmount"`
	MaxPending      int    `mapstructure:"maxPending"`
	MinBalance      string `mapstructure:"minBalance"`
	// LowBalanceThreshold triggers the operator low-funds warning.
	LowBalanceThreshold  string `mapstructure:"lowBalanceThreshold"`
	RefillEnabled        bool   `mapstructure:"refillEnabled"`
	RefillContract       string `mapstructure:"refillContract"`
	RefillAmount         string `mapstructure:"refillAmount"`
	RefillThreshold      string `mapstructure:"refillThreshold"`
	RefillOverflowAmount string `mapstructure:"refillOverflowAmount"`
	// RefillCooldown is the minimum time in seconds between two
	// successful refill or overflow operations.
	RefillCooldown int64 `mapstructure:"refillCooldown"`
}

// DefaultCW returns a CW block with sane defaults for a test chain.
func DefaultCW() CW {
	return CW{
		AddressPrefix:       "wasm",
		Denom:               "ustake",
		Decimals:            6,
		Symbol:              "STAKE",
		IsNativeToken:       true,
		GasAmount:           "2000",
		GasLimit:            200000,
		MinGasAmount:        "10000",
		MinAmount:           "1000000",
		MaxAmount:           "10000000",
		MaxPending:          10,
		MinBalance:          "100000000",
		LowBalanceThreshold: "1000000000",
		RefillCooldown:      1800,
	}
}

// Validate checks the required fields and the consistency of the block.
func (c *CW) Validate() error {
	if len(c.RPCHost) == 0 {
		return fmt.Errorf("cwRpcHost is required")
	}
	if c.WalletMnemonic == "" {
		return fmt.Errorf("cwWalletMnemonic is required")
	}
	if c.AddressPrefix == "" {
		return fmt.Errorf("cwAddressPrefix is required")
	}
	if c.Denom == "" {
		return fmt.Errorf("cwDenom is required")
	}
	if !c.IsNativeToken && c.ContractAddress == "" {
		return fmt.Errorf("cwContractAddress is required for a contract token")
	}
	if c.MaxPending <= 0 {
		return fmt.Errorf("cwMaxPending must be positive")
	}
	for _, amount := range []struct{ key, value string }{
		{"cwGasAmount", c.GasAmount},
		{"cwMinGasAmount", c.MinGasAmount},
		{"cwMinAmount", c.MinAmount},
		{"cwMaxAmount", c.MaxAmount},
		{"cwMinBalance", c.MinBalance},
		{"cwLowBalanceThreshold", c.LowBalanceThreshold},
	} {
		if _, err := ParseAmount(amount.value); err != nil {
			return fmt.Errorf("%s: %w", amount.key, err)
		}
	}
	if c.RefillEnabled {
		if c.RefillContract == "" {
			return fmt.Errorf("cwRefillContract is required when refill is enabled")
		}
		for _, amount := range []struct{ key, value string }{
			{"cwRefillAmount", c.RefillAmount},
			{"cwRefillThreshold", c.RefillThreshold},
			{"cwRefillOverflowAmount", c.RefillOverflowAmount},
		} {
			if _, err := ParseAmount(amount.value); err != nil {
				return fmt.Errorf("%s: %w", amount.key, err)
			}
		}
	}
	return nil
}

// ParseAmount parses a base-unit integer string. Amounts never pass
// through floating point.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid base-unit amount %q", s)
	}
	return v, nil
}
