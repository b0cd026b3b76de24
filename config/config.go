// Package config loads SmartDoor settings from a file, the environment and
// built-in defaults, in increasing order of precedence: defaults, file, env.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/spf13/viper"

	"github.com/weiihann/smartdoor/contract"
)

// EnvPrefix prefixes every environment override, e.g. SMARTDOOR_PRIVATE_KEY.
const EnvPrefix = "SMARTDOOR"

var gweiInWei = uint256.NewInt(1_000_000_000)

type Config struct {
	UserAddress     string `mapstructure:"user_address"`
	PrivateKey      string `mapstructure:"private_key"`
	ContractAddress string `mapstructure:"contract_address"`
	SendURL         string `mapstructure:"provider_endpoint_send"`
	FetchURL        string `mapstructure:"provider_endpoint_fetch"`
	ABIPath         string `mapstructure:"abi_path"`
	ChainID         uint64 `mapstructure:"chain_id"`

	GasLimit     uint64 `mapstructure:"gas_limit"`
	GasPriceGwei uint64 `mapstructure:"gas_price_gwei"`

	Requests        int           `mapstructure:"requests"`
	Timeout         time.Duration `mapstructure:"timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	LogPollInterval time.Duration `mapstructure:"log_poll_interval"`

	DBPath string `mapstructure:"db_path"`

	Door DoorConfig `mapstructure:"door"`
}

type DoorConfig struct {
	Hold    time.Duration `mapstructure:"hold"`
	Engage  []string      `mapstructure:"engage"`
	Release []string      `mapstructure:"release"`
	// Guest restricts the lock to one guest's accesses when set.
	Guest string `mapstructure:"guest"`
}

var defaults = map[string]any{
	"chain_id":          contract.MumbaiChainID,
	"gas_limit":         10_000_000,
	"gas_price_gwei":    10,
	"requests":          25,
	"timeout":           2 * time.Minute,
	"poll_interval":     10 * time.Millisecond,
	"log_poll_interval": 2 * time.Second,
	"db_path":           "./data/smartdoor.db",
	"door.hold":         10 * time.Second,
}

// Keys without defaults still need an env binding so Unmarshal sees them.
var envOnly = []string{
	"user_address",
	"private_key",
	"contract_address",
	"provider_endpoint_send",
	"provider_endpoint_fetch",
	"abi_path",
	"door.engage",
	"door.release",
	"door.guest",
}

// Load reads path when given, otherwise smartdoor.{yaml,json} from the
// working directory or $HOME/.smartdoor. A missing search-path file is not
// an error; a missing explicit path is.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("smartdoor")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.smartdoor")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	for _, key := range envOnly {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &cfg, nil
}

// GasPriceWei converts the configured gwei price to wei.
func (c *Config) GasPriceWei() *big.Int {
	var wei uint256.Int
	wei.Mul(uint256.NewInt(c.GasPriceGwei), gweiInWei)

	return wei.ToBig()
}

func (c *Config) TxOpts() contract.TxOpts {
	return contract.TxOpts{GasLimit: c.GasLimit, GasPrice: c.GasPriceWei()}
}

// Account is the configured user address, or the address of the private key
// when no address is set.
func (c *Config) Account() (string, error) {
	if c.UserAddress != "" {
		if err := contract.ValidateAddress(c.UserAddress); err != nil {
			return "", fmt.Errorf("user_address: %w", err)
		}
		return contract.NormalizeAddress(c.UserAddress), nil
	}

	if c.PrivateKey == "" {
		return "", errors.New("one of user_address or private_key is required")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.PrivateKey, "0x"))
	if err != nil {
		return "", fmt.Errorf("private_key: %w", err)
	}

	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

// Validate checks the settings needed to reach a deployed contract.
func (c *Config) Validate() error {
	var errs []error

	if c.ContractAddress == "" {
		errs = append(errs, errors.New("contract_address is required"))
	} else if err := contract.ValidateAddress(c.ContractAddress); err != nil {
		errs = append(errs, fmt.Errorf("contract_address: %w", err))
	}

	if c.SendURL == "" {
		errs = append(errs, errors.New("provider_endpoint_send is required"))
	}

	if _, err := c.Account(); err != nil {
		errs = append(errs, err)
	}

	if c.Requests <= 0 {
		errs = append(errs, fmt.Errorf("requests must be positive, got %d", c.Requests))
	}

	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}

	if c.Door.Guest != "" {
		if err := contract.ValidateAddress(c.Door.Guest); err != nil {
			errs = append(errs, fmt.Errorf("door.guest: %w", err))
		}
	}

	return errors.Join(errs...)
}
