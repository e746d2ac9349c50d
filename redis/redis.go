package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrLockHeld is returned when another process holds the lock.
var ErrLockHeld = errors.New("lock is held by another process")

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lock only while it still holds our token.
var refreshScript = redis.NewScript(1, `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

// NewPool returns a pool for host:port.
func NewPool(host string, port int) *redis.Pool {
	addr := fmt.Sprintf("%s:%d", host, port)
	return &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 4 * time.Minute,
		Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", addr, timeoutDialOptions()...) },
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// Ping checks that the server is reachable.
func Ping(ctx context.Context, pool *redis.Pool) error {
	conn, err := pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "cannot get redis connection")
	}
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		return errors.Wrap(err, "redis ping")
	}
	return nil
}

var _ gocron.Locker = (*Locker)(nil)

// Locker hands out expiring named locks shared by every relayer process
// pointed at the same redis. A held lock is refreshed every ttl/3 until it is
// unlocked or found lost.
type Locker struct {
	pool    *redis.Pool
	ttl     time.Duration
	refresh time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	leases map[string]*Lease
}

func NewLocker(pool *redis.Pool, ttl time.Duration, log zerolog.Logger) *Locker {
	return &Locker{
		pool:    pool,
		ttl:     ttl,
		refresh: ttl / 3,
		log:     log.With().Str("component", "redis_lock").Logger(),
		leases:  make(map[string]*Lease),
	}
}

// Lock takes lock:<name> for the scheduler; ErrLockHeld means skip this run.
func (l *Locker) Lock(ctx context.Context, name string) (gocron.Lock, error) {
	lease, err := l.Acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// Acquire tries once to take lock:<name>.
func (l *Locker) Acquire(ctx context.Context, name string) (*Lease, error) {
	conn, err := l.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "cannot get redis connection")
	}
	defer conn.Close()

	key := lockKey(name)
	token := uuid.New().String()

	_, err = redis.String(conn.Do("SET", key, token, "NX", "PX", l.ttl.Milliseconds()))
	if errors.Is(err, redis.ErrNil) {
		return nil, errors.Wrap(ErrLockHeld, key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot acquire %s", key)
	}

	lease := &Lease{
		locker: l,
		name:   name,
		key:    key,
		token:  token,
		lost:   make(chan struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	l.mu.Lock()
	l.leases[name] = lease
	l.mu.Unlock()

	go lease.keepAlive()
	return lease, nil
}

// Lost returns a channel closed once the lease held for name is lost, or nil
// when this process holds no lease for name.
func (l *Locker) Lost(name string) <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lease, ok := l.leases[name]; ok {
		return lease.lost
	}
	return nil
}

func (l *Locker) forget(lease *Lease) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.leases[lease.name] == lease {
		delete(l.leases, lease.name)
	}
}

// Lease is one held lock.
type Lease struct {
	locker *Locker
	name   string
	key    string
	token  string

	lost     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Lost is closed when the lock expired or was taken over before Unlock.
func (le *Lease) Lost() <-chan struct{} {
	return le.lost
}

// Unlock stops refreshing and deletes the lock if it is still ours.
func (le *Lease) Unlock(_ context.Context) error {
	le.stopOnce.Do(func() { close(le.stop) })
	<-le.done
	le.locker.forget(le)

	// the caller's context may already be cancelled at shutdown
	conn := le.locker.pool.Get()
	defer conn.Close()
	if _, err := releaseScript.Do(conn, le.key, le.token); err != nil {
		return errors.Wrapf(err, "cannot release %s", le.key)
	}
	return nil
}

func (le *Lease) keepAlive() {
	defer close(le.done)
	l := le.locker
	ticker := time.NewTicker(l.refresh)
	defer ticker.Stop()
	lastRefresh := time.Now()

	for {
		select {
		case <-le.stop:
			return
		case <-ticker.C:
		}

		held, err := le.extend()
		switch {
		case err == nil && held:
			lastRefresh = time.Now()
		case err == nil:
			l.log.Error().Str("key", le.key).Msg("lock taken over or expired")
			close(le.lost)
			return
		case time.Since(lastRefresh) >= l.ttl:
			l.log.Error().Err(err).Str("key", le.key).Msg("lock expired while redis was unreachable")
			close(le.lost)
			return
		default:
			l.log.Warn().Err(err).Str("key", le.key).Msg("cannot refresh lock, retrying")
		}
	}
}

func (le *Lease) extend() (bool, error) {
	conn := le.locker.pool.Get()
	defer conn.Close()
	n, err := redis.Int(refreshScript.Do(conn, le.key, le.token, le.locker.ttl.Milliseconds()))
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func lockKey(name string) string {
	return "lock:" + name
}
