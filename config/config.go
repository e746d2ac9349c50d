package config

import "time"

type Configuration struct {
	// Server config
	Server struct {
		HTTPPort  int    `yaml:"http_port" envconfig:"HTTP_PORT"`
		RedisHost string `yaml:"redis_host" envconfig:"REDIS_HOST"`
		RedisPort int    `yaml:"redis_port" envconfig:"REDIS_PORT"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver" envconfig:"DRIVER"`
		DSN    string `yaml:"dsn" envconfig:"DSN"`
	} `yaml:"database"`
	Log struct {
		Level  string `yaml:"level" envconfig:"LEVEL"`
		Format string `yaml:"format" envconfig:"FORMAT"`
	} `yaml:"log"`
	Relayer RelayerConfig `yaml:"relayer"`
	// used by Miden chains without their own api_url
	MidenAPIURL string `yaml:"miden_api_url" envconfig:"MIDEN_API_URL"`

	EVMChains   []EVMChainConfig   `yaml:"evm_chains" ignored:"true"`
	MidenChains []MidenChainConfig `yaml:"miden_chains" ignored:"true"`

	// important private stuff, keyed by chain id: RELAYER_SIGNER_KEYS=1:0xabc,10:0xdef
	SignerKeys map[string]string `yaml:"-" envconfig:"SIGNER_KEYS"`
}

type RelayerConfig struct {
	Interval time.Duration `yaml:"interval" envconfig:"INTERVAL"`
	PageSize int           `yaml:"page_size" envconfig:"PAGE_SIZE"`
	// exit: mark each exit right after delivery; page: one transaction per run
	FulfillMode string `yaml:"fulfill_mode" envconfig:"FULFILL_MODE"`
}

// EVM-chain config, one entry per chain the relayer scans or delivers to
type EVMChainConfig struct {
	Name            string   `yaml:"name"`
	ChainID         uint64   `yaml:"chain_id"`
	RPCList         []string `yaml:"rpc_urls"`
	BridgeAddress   string   `yaml:"bridge_address"`   // emits BridgeEvent
	WithdrawAddress string   `yaml:"withdraw_address"` // issueToken target, empty if never a destination
	PrivateKey      string   `yaml:"private_key"`
	StartBlock      uint64   `yaml:"start_block"`
	// blocks held back from the tip; also the confirmation count for deliveries
	FinalizationGap uint64        `yaml:"finalization_gap"`
	BatchSize       uint64        `yaml:"batch_size"`
	PollInterval    time.Duration `yaml:"poll_interval"`
}

type MidenChainConfig struct {
	Name         string        `yaml:"name"`
	ChainID      uint64        `yaml:"chain_id"`
	APIURL       string        `yaml:"api_url"`
	StartBlock   uint64        `yaml:"start_block"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

const (
	FulfillModeExit = "exit"
	FulfillModePage = "page"
)

const (
	DefaultHTTPPort      = 8080
	DefaultRedisPort     = 6379
	DefaultPollInterval  = 10 * time.Second
	DefaultRelayInterval = time.Minute
	DefaultRelayPageSize = 20
	DefaultScanBatchSize = 100
	// a window [start, start+batch-1] only advances when it spans two blocks
	MinScanBatchSize = 2
)

// SignerKey returns the withdraw-contract signer key for a chain, env first.
func (c *Configuration) SignerKey(chainID uint64) string {
	if k, ok := c.SignerKeys[uintKey(chainID)]; ok && k != "" {
		return k
	}
	if ch := c.EVMChain(chainID); ch != nil {
		return ch.PrivateKey
	}
	return ""
}

func (c *Configuration) EVMChain(chainID uint64) *EVMChainConfig {
	for i := range c.EVMChains {
		if c.EVMChains[i].ChainID == chainID {
			return &c.EVMChains[i]
		}
	}
	return nil
}

func (c *Configuration) MidenChain(chainID uint64) *MidenChainConfig {
	for i := range c.MidenChains {
		if c.MidenChains[i].ChainID == chainID {
			return &c.MidenChains[i]
		}
	}
	return nil
}

func (c *Configuration) EVMChainIDs() []uint64 {
	ids := make([]uint64, 0, len(c.EVMChains))
	for _, ch := range c.EVMChains {
		ids = append(ids, ch.ChainID)
	}
	return ids
}

func (c *Configuration) MidenChainIDs() []uint64 {
	ids := make([]uint64, 0, len(c.MidenChains))
	for _, ch := range c.MidenChains {
		ids = append(ids, ch.ChainID)
	}
	return ids
}
