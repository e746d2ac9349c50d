package workers

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// RunLocker is the cross-process run lock. Besides gating runs it reports
// when a lease taken for a running task is lost. redis.Locker implements it.
type RunLocker interface {
	gocron.Locker
	Lost(name string) <-chan struct{}
}

// Task is one periodic job: a poller tick or a relayer run.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error

	leases interface {
		Lost(name string) <-chan struct{}
	}
	log zerolog.Logger
}

func NewTask(name string, interval time.Duration, run func(ctx context.Context) error, log zerolog.Logger) *Task {
	return &Task{
		Name:     name,
		Interval: interval,
		Run:      run,
		log:      log.With().Str("task", name).Logger(),
	}
}

// Tick runs the task once. When the run lock held for it is lost the run's
// context is cancelled, so no further deliveries start under a lock another
// process may now hold.
func (t *Task) Tick(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if t.leases != nil {
		if lost := t.leases.Lost(t.Name); lost != nil {
			go func() {
				select {
				case <-lost:
					t.log.Error().Msg("run lock lost, cancelling run")
					cancel()
				case <-ctx.Done():
				}
			}()
		}
	}

	started := time.Now()
	err := t.Run(ctx)
	taskDuration.WithLabelValues(t.Name).Observe(time.Since(started).Seconds())
	if err != nil {
		t.log.Error().Err(err).Msg("run failed, retrying next tick")
		taskRuns.WithLabelValues(t.Name, "error").Inc()
		return err
	}
	taskRuns.WithLabelValues(t.Name, "ok").Inc()
	return nil
}

// Scheduler runs every task on its own interval. A task whose previous run
// is still in flight skips the tick; with a RunLocker, so does a task whose
// lock another process holds.
type Scheduler struct {
	cron gocron.Scheduler
	lock RunLocker
	log  zerolog.Logger
}

func NewScheduler(lock RunLocker, log zerolog.Logger) (*Scheduler, error) {
	log = log.With().Str("component", "scheduler").Logger()
	opts := []gocron.SchedulerOption{gocron.WithLogger(cronLogger{log})}
	if lock != nil {
		opts = append(opts, gocron.WithDistributedLocker(skipCounter{lock}))
	}

	cron, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create scheduler")
	}
	return &Scheduler{cron: cron, lock: lock, log: log}, nil
}

// Add schedules t. The first run happens one Interval after Run starts.
func (s *Scheduler) Add(t *Task) error {
	if s.lock != nil {
		t.leases = s.lock
	}
	_, err := s.cron.NewJob(
		gocron.DurationJob(t.Interval),
		gocron.NewTask(t.Tick),
		gocron.WithName(t.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.Wrapf(err, "cannot schedule %s", t.Name)
	}
	s.log.Info().Str("task", t.Name).Dur("interval", t.Interval).Msg("task scheduled")
	return nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// in-flight runs to stop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	if err := s.cron.Shutdown(); err != nil {
		return errors.Wrap(err, "scheduler shutdown")
	}
	s.log.Info().Msg("scheduler stopped")
	return nil
}

type skipCounter struct {
	RunLocker
}

func (c skipCounter) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	lock, err := c.RunLocker.Lock(ctx, key)
	if err != nil {
		taskRuns.WithLabelValues(key, "skipped").Inc()
		return nil, err
	}
	return lock, nil
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Debug(msg string, args ...any) { l.log.Debug().Fields(args).Msg(msg) }
func (l cronLogger) Info(msg string, args ...any)  { l.log.Debug().Fields(args).Msg(msg) }
func (l cronLogger) Warn(msg string, args ...any)  { l.log.Warn().Fields(args).Msg(msg) }
func (l cronLogger) Error(msg string, args ...any) { l.log.Error().Fields(args).Msg(msg) }
