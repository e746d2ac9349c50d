package workers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"gomidenbridge/config"
	"gomidenbridge/db"
)

// Relayer delivers pending exits to their destinations and marks them
// fulfilled.
type Relayer struct {
	store       *db.Store
	dispatchers Dispatchers
	pageSize    int
	mode        string
	interval    time.Duration
	log         zerolog.Logger
}

func NewRelayer(store *db.Store, dispatchers Dispatchers, cfg config.RelayerConfig, log zerolog.Logger) *Relayer {
	return &Relayer{
		store:       store,
		dispatchers: dispatchers,
		pageSize:    cfg.PageSize,
		mode:        cfg.FulfillMode,
		interval:    cfg.Interval,
		log:         log.With().Str("component", "relayer").Logger(),
	}
}

func (r *Relayer) Task(log zerolog.Logger) *Task {
	return NewTask("relayer", r.interval, r.Run, log)
}

func pagesCount(total int64, pageSize int) int {
	if total <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

// Run relays everything that was pending when it started. The pending set
// shrinks as pages are fulfilled, so page 0 is re-read after every page.
func (r *Relayer) Run(ctx context.Context) error {
	log := r.log.With().Str("run", uuid.New().String()).Str("mode", r.mode).Logger()
	log.Debug().Msg("relay job initiated")

	if r.mode == config.FulfillModePage {
		return r.runPage(ctx, log)
	}
	return r.runExit(ctx, log)
}

// runExit commits each fulfillment right after its dispatch. A failure stops
// the run but keeps everything delivered before it.
func (r *Relayer) runExit(ctx context.Context, log zerolog.Logger) error {
	page, total, err := r.store.PendingExitsPage(ctx, r.pageSize, 0)
	if err != nil {
		return err
	}
	pages := pagesCount(total, r.pageSize)
	log.Debug().Int("pages", pages).Int64("pending", total).Msg("relayer has pages to process")

	for i := 0; i < pages && len(page) > 0; i++ {
		for _, exit := range page {
			if _, err := r.dispatch(ctx, log, exit); err != nil {
				return err
			}
			if err := r.store.Fulfill(ctx, []uint64{exit.ID}); err != nil {
				return errors.Wrapf(err, "exit %d was delivered but not marked", exit.ID)
			}
			exitsRelayed.WithLabelValues(exit.To.String()).Inc()
		}
		if page, _, err = r.store.PendingExitsPage(ctx, r.pageSize, 0); err != nil {
			return err
		}
	}
	return nil
}

// runPage runs the whole pass in one isolated transaction and fulfills a page
// at a time. A failure rolls back every fulfillment of the run, while the
// destination side may already hold some deliveries; those repeat with the
// same ExitKey.
func (r *Relayer) runPage(ctx context.Context, log zerolog.Logger) error {
	relayed := make(map[string]int)

	err := r.store.IsolatedTransaction(ctx, func(tx *db.Store) error {
		page, total, err := tx.PendingExitsPage(ctx, r.pageSize, 0)
		if err != nil {
			return err
		}
		pages := pagesCount(total, r.pageSize)
		log.Debug().Int("pages", pages).Int64("pending", total).Msg("relayer has pages to process")

		for i := 0; i < pages && len(page) > 0; i++ {
			ids := make([]uint64, 0, len(page))
			for _, exit := range page {
				if _, err := r.dispatch(ctx, log, exit); err != nil {
					return err
				}
				ids = append(ids, exit.ID)
				relayed[exit.To.String()]++
			}
			if err := tx.Fulfill(ctx, ids); err != nil {
				return err
			}
			if page, _, err = tx.PendingExitsPage(ctx, r.pageSize, 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for dest, n := range relayed {
		exitsRelayed.WithLabelValues(dest).Add(float64(n))
	}
	return nil
}

func (r *Relayer) dispatch(ctx context.Context, log zerolog.Logger, exit db.Exit) (string, error) {
	disp, err := r.dispatchers.For(exit.To)
	if err != nil {
		relayFailures.WithLabelValues(exit.To.String()).Inc()
		return "", errors.Wrapf(err, "exit %d", exit.ID)
	}
	ref, err := disp.Dispatch(ctx, exit)
	if err != nil {
		relayFailures.WithLabelValues(exit.To.String()).Inc()
		return "", err
	}
	log.Info().Uint64("exit", exit.ID).Str("to", exit.To.String()).Str("ref", ref).Msg("exit relayed")
	return ref, nil
}
