package config

import (
	"io"
	"net/url"
	"os"
	"strconv"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every environment override, e.g. RELAYER_DATABASE_DSN.
const EnvPrefix = "RELAYER"

// ErrInvalidConfig marks configuration errors; they are fatal at startup.
var ErrInvalidConfig = errors.New("invalid configuration")

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidConfig, format, args...)
}

func readFile(cfg *Configuration, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "cannot open config file %s", path)
	}
	defer f.Close()

	return decode(cfg, f)
}

func decode(cfg *Configuration, r io.Reader) error {
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return errors.Wrap(err, "cannot decode config yaml")
	}
	return nil
}

func readEnv(cfg *Configuration) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return errors.Wrap(err, "cannot read config from environment")
	}
	return nil
}

// Load reads the yaml file, applies environment overrides, fills defaults
// and validates the result. An empty path means environment only.
func Load(path string) (*Configuration, error) {
	cfg := &Configuration{}
	if path != "" {
		if err := readFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := readEnv(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Configuration) applyDefaults() {
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = DefaultHTTPPort
	}
	if c.Server.RedisHost != "" && c.Server.RedisPort == 0 {
		c.Server.RedisPort = DefaultRedisPort
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Relayer.Interval == 0 {
		c.Relayer.Interval = DefaultRelayInterval
	}
	if c.Relayer.PageSize == 0 {
		c.Relayer.PageSize = DefaultRelayPageSize
	}
	if c.Relayer.FulfillMode == "" {
		c.Relayer.FulfillMode = FulfillModeExit
	}
	for i := range c.EVMChains {
		ch := &c.EVMChains[i]
		if ch.BatchSize == 0 {
			ch.BatchSize = DefaultScanBatchSize
		}
		if ch.PollInterval == 0 {
			ch.PollInterval = DefaultPollInterval
		}
	}
	for i := range c.MidenChains {
		ch := &c.MidenChains[i]
		if ch.APIURL == "" {
			ch.APIURL = c.MidenAPIURL
		}
		if ch.PollInterval == 0 {
			ch.PollInterval = DefaultPollInterval
		}
	}
}

// Validate checks the typed configuration. Every failure wraps ErrInvalidConfig.
func (c *Configuration) Validate() error {
	if len(c.EVMChains) == 0 && len(c.MidenChains) == 0 {
		return invalid("no chains configured")
	}
	if c.Database.DSN == "" {
		return invalid("database dsn is required")
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return invalid("unsupported database driver %q", c.Database.Driver)
	}
	if c.Relayer.PageSize <= 0 {
		return invalid("relayer page_size must be positive")
	}
	if c.Relayer.FulfillMode != FulfillModeExit && c.Relayer.FulfillMode != FulfillModePage {
		return invalid("relayer fulfill_mode must be %q or %q", FulfillModeExit, FulfillModePage)
	}

	seen := make(map[uint64]string)
	for _, ch := range c.EVMChains {
		if prev, ok := seen[ch.ChainID]; ok {
			return invalid("chain id %d configured twice (%s)", ch.ChainID, prev)
		}
		seen[ch.ChainID] = "evm"

		if len(ch.RPCList) == 0 {
			return invalid("evm chain %d: rpc_urls is required", ch.ChainID)
		}
		for _, u := range ch.RPCList {
			if err := validateURL(u); err != nil {
				return invalid("evm chain %d: malformed rpc url %q", ch.ChainID, u)
			}
		}
		if err := validateAddress(ch.BridgeAddress); err != nil {
			return invalid("evm chain %d: malformed bridge_address %q", ch.ChainID, ch.BridgeAddress)
		}
		if ch.WithdrawAddress != "" {
			if err := validateAddress(ch.WithdrawAddress); err != nil {
				return invalid("evm chain %d: malformed withdraw_address %q", ch.ChainID, ch.WithdrawAddress)
			}
		}
		if ch.BatchSize < MinScanBatchSize {
			return invalid("evm chain %d: batch_size must be at least %d", ch.ChainID, MinScanBatchSize)
		}
	}
	for _, ch := range c.MidenChains {
		if prev, ok := seen[ch.ChainID]; ok {
			return invalid("chain id %d configured twice (%s)", ch.ChainID, prev)
		}
		seen[ch.ChainID] = "miden"

		if err := validateURL(ch.APIURL); err != nil {
			return invalid("miden chain %d: malformed api_url %q", ch.ChainID, ch.APIURL)
		}
	}
	for k := range c.SignerKeys {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return invalid("signer key entry %q is not a chain id", k)
		}
		if c.EVMChain(id) == nil {
			return invalid("signer key for unknown evm chain %d", id)
		}
	}
	return nil
}

func validateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return errors.New("not a hex address")
	}
	return ethav.Validate(common.HexToAddress(address).Hex())
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return errors.New("url needs scheme and host")
	}
	return nil
}

func uintKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}
