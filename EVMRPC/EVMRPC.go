package EVMRPC

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrChainIDMismatch is returned when an RPC reports another chain than configured.
var ErrChainIDMismatch = errors.New("rpc chain id does not match configuration")

// ChainReader is the part of an EVM node the scanner needs.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
}

// Client keeps one connection per configured RPC url and tries them in order.
type Client struct {
	chainID uint64
	urls    []string
	clients []*ethclient.Client
	log     zerolog.Logger
}

// Dial connects to every url of a chain. Urls that fail to dial are skipped
// with a warning; at least one must succeed.
func Dial(ctx context.Context, chainID uint64, urls []string, log zerolog.Logger) (*Client, error) {
	c := &Client{
		chainID: chainID,
		log:     log.With().Str("component", "evm_rpc").Uint64("chain", chainID).Logger(),
	}
	for _, url := range urls {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			c.log.Warn().Err(err).Str("url", url).Msg("error connecting to rpc")
			continue
		}
		c.urls = append(c.urls, url)
		c.clients = append(c.clients, client)
	}
	if len(c.clients) == 0 {
		return nil, errors.Errorf("no reachable rpc for chain %d", chainID)
	}
	return c, nil
}

// WithClient runs f against each connection until one succeeds and returns
// the last error otherwise.
func WithClient[T any](c *Client, f func(client *ethclient.Client) (T, error)) (res T, err error) {
	for i, client := range c.clients {
		res, err = f(client)
		if err == nil {
			return
		}
		c.log.Debug().Err(err).Str("url", c.urls[i]).Msg("rpc call failed, trying next url")
	}
	return
}

// Primary is the first reachable connection, used for signed transactions
// where retrying the same call on another node could duplicate it.
func (c *Client) Primary() *ethclient.Client {
	return c.clients[0]
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return WithClient(c, func(client *ethclient.Client) (*big.Int, error) {
		return client.ChainID(ctx)
	})
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return WithClient(c, func(client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error) {
	return WithClient(c, func(client *ethclient.Client) ([]ethtypes.Log, error) {
		return client.FilterLogs(ctx, q)
	})
}

func (c *Client) Close() {
	for _, client := range c.clients {
		client.Close()
	}
}

// VerifyChainID fails with ErrChainIDMismatch when the node serves another chain.
func VerifyChainID(ctx context.Context, r ChainReader, expected uint64) error {
	id, err := r.ChainID(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to read chain id of %d", expected)
	}
	if !id.IsUint64() || id.Uint64() != expected {
		return errors.Wrapf(ErrChainIDMismatch, "configured %d, rpc reports %s", expected, id)
	}
	return nil
}
