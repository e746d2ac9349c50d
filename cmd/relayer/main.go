package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"gomidenbridge/EVMRPC"
	"gomidenbridge/MidenRPC"
	"gomidenbridge/config"
	"gomidenbridge/db"
	"gomidenbridge/logger"
	"gomidenbridge/redis"
	"gomidenbridge/types"
	"gomidenbridge/workers"
	"gomidenbridge/workers/handlers"
)

// run locks are refreshed every lockTTL/3 while held
const lockTTL = time.Minute

var optionConfig = &cli.StringFlag{
	Name:    "config",
	Usage:   "path to relayer config file",
	Value:   "config.yml",
	EnvVars: []string{"RELAYER_CONFIG"},
}

func main() {
	app := &cli.App{
		Name:  "relayer",
		Usage: "Relays bridge exits between EVM chains and Miden",
		Commands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "Run pollers, relayer and the HTTP service",
				Flags:  []cli.Flag{optionConfig},
				Action: start,
			},
			{
				Name:   "migrate",
				Usage:  "Create or update the database schema",
				Flags:  []cli.Flag{optionConfig},
				Action: migrate,
			},
			{
				Name:   "status",
				Usage:  "Print the watermark of every configured chain",
				Flags:  []cli.Flag{optionConfig},
				Action: status,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.ErrWriter, "exited with error: %v\n", err)
		os.Exit(1)
	}
}

func load(c *cli.Context) (*config.Configuration, zerolog.Logger, error) {
	cfg, err := config.Load(c.String(optionConfig.Name))
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger.New(cfg.Log.Level, cfg.Log.Format), nil
}

func migrate(c *cli.Context) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}
	store, err := db.Open(cfg.Database.Driver, cfg.Database.DSN, true)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("driver", cfg.Database.Driver).Msg("schema migrated")
	return nil
}

func status(c *cli.Context) error {
	cfg, _, err := load(c)
	if err != nil {
		return err
	}
	store, err := db.Open(cfg.Database.Driver, cfg.Database.DSN, false)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, chain := range configuredChains(cfg) {
		watermark, err := store.LastScannedBlock(c.Context, chain)
		if err != nil {
			return err
		}
		latest, err := store.LatestExitBlock(c.Context, chain.ChainID)
		if err != nil {
			return err
		}
		scans, err := store.ScanRecords(c.Context, chain)
		if err != nil {
			return err
		}
		last := "none"
		if n := len(scans); n > 0 {
			last = fmt.Sprintf("[%d,%d]", scans[n-1].StartBlock, scans[n-1].EndBlock)
		}
		fmt.Fprintf(c.App.Writer, "%-16s watermark=%d latest_exit=%d windows=%d last_window=%s\n", chain, watermark, latest, len(scans), last)
	}
	_, pending, err := store.PendingExitsPage(c.Context, 1, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "pending exits: %d\n", pending)
	return nil
}

func configuredChains(cfg *config.Configuration) []types.ChainRef {
	chains := make([]types.ChainRef, 0, len(cfg.EVMChains)+len(cfg.MidenChains))
	for _, id := range cfg.EVMChainIDs() {
		chains = append(chains, types.ChainRef{ChainID: id, ChainKind: types.ChainKindEVM})
	}
	for _, id := range cfg.MidenChainIDs() {
		chains = append(chains, types.ChainRef{ChainID: id, ChainKind: types.ChainKindMiden})
	}
	return chains
}

func start(c *cli.Context) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}
	log.Info().Int("evm_chains", len(cfg.EVMChains)).Int("miden_chains", len(cfg.MidenChains)).Msg("starting bridge relayer")

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(cfg.Database.Driver, cfg.Database.DSN, true)
	if err != nil {
		return err
	}
	defer store.Close()

	var locker workers.RunLocker
	if cfg.Server.RedisHost != "" {
		pool := redis.NewPool(cfg.Server.RedisHost, cfg.Server.RedisPort)
		defer pool.Close()
		if err := redis.Ping(ctx, pool); err != nil {
			return err
		}
		locker = redis.NewLocker(pool, lockTTL, log)
		log.Info().Str("redis", fmt.Sprintf("%s:%d", cfg.Server.RedisHost, cfg.Server.RedisPort)).Msg("run lock enabled")
	}

	registry := types.NewChainRegistry(cfg.EVMChainIDs(), cfg.MidenChainIDs())
	tasks, signers, closeRPC, err := assemble(ctx, cfg, store, registry, log)
	defer closeRPC()
	if err != nil {
		return err
	}

	h := handlers.New(store, registry, configuredChains(cfg), signers, log)

	scheduler, err := workers.NewScheduler(locker, log)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := scheduler.Add(t); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		return workers.Worker_HTTP(gctx, cfg.Server.HTTPPort, workers.NewRouter(h), log)
	})

	err = g.Wait()
	log.Info().Msg("bridge relayer stopped")
	return err
}

// assemble builds every poller and dispatcher from the validated configuration.
func assemble(ctx context.Context, cfg *config.Configuration, store *db.Store, registry *types.ChainRegistry, log zerolog.Logger) ([]*workers.Task, map[uint64]handlers.SignerBalance, func(), error) {
	var (
		tasks       []*workers.Task
		clients     []*EVMRPC.Client
		dispatchers = make(workers.Dispatchers)
		signers     = make(map[uint64]handlers.SignerBalance)
	)
	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}

	for _, chain := range cfg.EVMChains {
		client, err := EVMRPC.Dial(ctx, chain.ChainID, chain.RPCList, log)
		if err != nil {
			return nil, nil, closeAll, err
		}
		clients = append(clients, client)

		scanner := workers.NewEVMScanner(chain, client, store, registry, log)
		if err := scanner.Verify(ctx); err != nil {
			return nil, nil, closeAll, err
		}
		tasks = append(tasks, scanner.Task(log))

		if chain.WithdrawAddress == "" {
			continue
		}
		key := cfg.SignerKey(chain.ChainID)
		if key == "" {
			return nil, nil, closeAll, errors.Wrapf(config.ErrInvalidConfig, "evm chain %d has a withdraw contract but no signer key", chain.ChainID)
		}
		contract, err := EVMRPC.NewWithdrawContract(common.HexToAddress(chain.WithdrawAddress), chain.ChainID, key, client.Primary())
		if err != nil {
			return nil, nil, closeAll, errors.Wrapf(err, "evm chain %d", chain.ChainID)
		}
		dispatchers[chain.ChainID] = workers.NewEVMDispatcher(chain.ChainID, contract, chain.FinalizationGap, chain.PollInterval, log)
		signers[chain.ChainID] = contract
		log.Info().Uint64("chain", chain.ChainID).Str("signer", contract.Signer().Hex()).Msg("evm destination registered")
	}

	for _, chain := range cfg.MidenChains {
		api, err := MidenRPC.NewClient(chain.APIURL, log)
		if err != nil {
			return nil, nil, closeAll, errors.Wrapf(config.ErrInvalidConfig, "miden chain %d: %v", chain.ChainID, err)
		}
		tasks = append(tasks, workers.NewMidenScanner(chain, api, store, registry, log).Task(log))
		dispatchers[chain.ChainID] = workers.NewMidenDispatcher(chain.ChainID, api, log)
	}

	tasks = append(tasks, workers.NewRelayer(store, dispatchers, cfg.Relayer, log).Task(log))
	return tasks, signers, closeAll, nil
}
