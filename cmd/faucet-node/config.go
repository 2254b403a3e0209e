package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cosmdrop/faucet-node/config"
	"github.com/cosmdrop/faucet-node/internal"
)

const (
	defaultAPIHost   = "0.0.0.0"
	defaultAPIPort   = 8000
	defaultLogLevel  = "info"
	defaultLogOutput = "stdout"
	defaultDatadir   = ".faucet-node" // Will be prefixed with user's home directory

	walletRefreshInterval = 30 * time.Second
	refillCheckInterval   = 60 * time.Second
)

// Version is the build version, set at build time with -ldflags
var Version = internal.Version

// Config holds the application configuration
type Config struct {
	CW      config.CW `mapstructure:"cw"`
	API     APIConfig `mapstructure:"api"`
	Log     LogConfig `mapstructure:"log"`
	Datadir string    `mapstructure:"datadir"`
}

// APIConfig holds the API-specific configuration
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// loadConfig loads configuration from flags, environment variables, and defaults
func loadConfig() (*Config, error) {
	v := viper.New()

	// Get user's home directory for default datadir
	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	defaultDatadirPath := filepath.Join(userHomeDir, defaultDatadir)

	defaults := config.DefaultCW()
	v.SetDefault("cw.addressPrefix", defaults.AddressPrefix)
	v.SetDefault("cw.denom", defaults.Denom)
	v.SetDefault("cw.decimals", defaults.Decimals)
	v.SetDefault("cw.symbol", defaults.Symbol)
	v.SetDefault("cw.isNativeToken", defaults.IsNativeToken)
	v.SetDefault("cw.gasAmount", defaults.GasAmount)
	v.SetDefault("cw.gasLimit", defaults.GasLimit)
	v.SetDefault("cw.minGasAmount", defaults.MinGasAmount)
	v.SetDefault("cw.minAmount", defaults.MinAmount)
	v.SetDefault("cw.maxAmount", defaults.MaxAmount)
	v.SetDefault("cw.maxPending", defaults.MaxPending)
	v.SetDefault("cw.minBalance", defaults.MinBalance)
	v.SetDefault("cw.lowBalanceThreshold", defaults.LowBalanceThreshold)
	v.SetDefault("cw.refillCooldown", defaults.RefillCooldown)
	v.SetDefault("api.host", defaultAPIHost)
	v.SetDefault("api.port", defaultAPIPort)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)
	v.SetDefault("datadir", defaultDatadirPath)

	// Configure flags
	flag.StringSliceP("cw.rpcHost", "r", []string{}, "chain REST endpoint(s), comma-separated (required)")
	flag.StringP("cw.walletMnemonic", "m", "", "faucet wallet mnemonic (required)")
	flag.String("cw.addressPrefix", defaults.AddressPrefix, "bech32 address prefix")
	flag.String("cw.denom", defaults.Denom, "native fee denom")
	flag.Int("cw.decimals", defaults.Decimals, "token display decimals")
	flag.String("cw.symbol", defaults.Symbol, "token display symbol")
	flag.Bool("cw.isNativeToken", defaults.IsNativeToken, "dispense the native denom instead of a contract token")
	flag.String("cw.contractAddress", "", "CW20-style token contract address")
	flag.String("cw.gasPrice", "", "gas price (informational)")
	flag.String("cw.gasAmount", defaults.GasAmount, "fee amount per transaction, base units")
	flag.Uint64("cw.gasLimit", defaults.GasLimit, "gas limit per transaction")
	flag.String("cw.minGasAmount", defaults.MinGasAmount, "minimum native balance to keep processing claims")
	flag.String("cw.minAmount", defaults.MinAmount, "minimum drop amount, base units")
	flag.String("cw.maxAmount", defaults.MaxAmount, "maximum drop amount, base units")
	flag.Int("cw.maxPending", defaults.MaxPending, "maximum claims awaiting confirmation")
	flag.String("cw.minBalance", defaults.MinBalance, "token balance below which the faucet is out of funds")
	flag.String("cw.lowBalanceThreshold", defaults.LowBalanceThreshold, "token balance that triggers the low-funds warning")
	flag.Bool("cw.refillEnabled", false, "enable the treasury refill controller")
	flag.String("cw.refillContract", "", "treasury contract address")
	flag.String("cw.refillAmount", "", "amount withdrawn per refill, base units")
	flag.String("cw.refillThreshold", "", "available balance below which a refill is issued")
	flag.String("cw.refillOverflowAmount", "", "available balance above which excess is deposited back")
	flag.Int64("cw.refillCooldown", defaults.RefillCooldown, "seconds between successful refill operations")
	flag.StringP("api.host", "a", defaultAPIHost, "API host")
	flag.IntP("api.port", "p", defaultAPIPort, "API port")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error, fatal)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")
	flag.StringP("datadir", "d", defaultDatadirPath, "data directory for database files")

	// Configure usage information
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "faucet-node v%s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: faucet-node [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dashes (-) and dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, FAUCET_CW_WALLETMNEMONIC or FAUCET_API_HOST\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Dispense the native denom on a local chain\n")
		fmt.Fprintf(os.Stderr, "  faucet-node --cw.rpcHost=http://localhost:1317 --cw.walletMnemonic=\"...\"\n\n")
		fmt.Fprintf(os.Stderr, "  # Dispense a CW20 token\n")
		fmt.Fprintf(os.Stderr, "  faucet-node --cw.rpcHost=https://lcd.example.com --cw.walletMnemonic=\"...\" \\\n")
		fmt.Fprintf(os.Stderr, "    --cw.isNativeToken=false --cw.contractAddress=wasm1...\n")
	}

	// Parse flags
	flag.CommandLine.SortFlags = false
	flag.Parse()

	// Configure Viper to use environment variables
	v.SetEnvPrefix("FAUCET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind flags to Viper
	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}
