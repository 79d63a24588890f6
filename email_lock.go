package account

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLockTTL          = 10 * time.Second
	DefaultLockWait         = 3 * time.Second
	defaultLockPollInterval = 25 * time.Millisecond
	defaultLockKeyPrefix    = "account:email-lock:"
)

// releaseScript deletes the key only while it still holds our token
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// LocalEmailLocker serializes callers within one process
type LocalEmailLocker struct {
	mu    sync.Mutex
	locks map[string]*emailLockEntry
}

type emailLockEntry struct {
	ch   chan struct{}
	refs int
}

// NewLocalEmailLocker returns an in-process keyed mutex
func NewLocalEmailLocker() *LocalEmailLocker {
	return &LocalEmailLocker{locks: map[string]*emailLockEntry{}}
}

// Lock blocks until email is free or ctx is done
func (l *LocalEmailLocker) Lock(ctx context.Context, email string) (func(), error) {
	key := NormalizeEmail(email)

	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &emailLockEntry{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, entry)
		return nil, goerrors.Wrap(ctx.Err(), ErrLockUnavailable.Category, ErrLockUnavailable.Message).
			WithTextCode(TextCodeLockUnavailable)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			l.drop(key, entry)
		})
	}, nil
}

func (l *LocalEmailLocker) drop(key string, entry *emailLockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}

// RedisLockClient is the subset of *redis.Client used by RedisEmailLocker
type RedisLockClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisEmailLockerOption customizes the redis locker
type RedisEmailLockerOption func(*RedisEmailLocker)

// WithLockTTL sets how long a lock survives a crashed holder
func WithLockTTL(ttl time.Duration) RedisEmailLockerOption {
	return func(l *RedisEmailLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithLockWait bounds how long Lock retries before giving up
func WithLockWait(wait time.Duration) RedisEmailLockerOption {
	return func(l *RedisEmailLocker) {
		if wait > 0 {
			l.wait = wait
		}
	}
}

// WithLockKeyPrefix namespaces lock keys
func WithLockKeyPrefix(prefix string) RedisEmailLockerOption {
	return func(l *RedisEmailLocker) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithLockLogger sets the logger used for release failures
func WithLockLogger(logger Logger) RedisEmailLockerOption {
	return func(l *RedisEmailLocker) {
		l.logger = normalizeLogger(logger)
	}
}

// RedisEmailLocker is a SET NX PX lock shared by every replica
type RedisEmailLocker struct {
	client RedisLockClient
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
	prefix string
	logger Logger
}

// NewRedisEmailLocker builds a locker over client
func NewRedisEmailLocker(client RedisLockClient, opts ...RedisEmailLockerOption) *RedisEmailLocker {
	l := &RedisEmailLocker{
		client: client,
		ttl:    DefaultLockTTL,
		wait:   DefaultLockWait,
		poll:   defaultLockPollInterval,
		prefix: defaultLockKeyPrefix,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}

	return l
}

// Lock retries SET NX until acquired, the wait elapses or ctx is done
func (l *RedisEmailLocker) Lock(ctx context.Context, email string) (func(), error) {
	key := l.prefix + NormalizeEmail(email)
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.ttl).Result()
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, ErrLockUnavailable
			}
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to acquire email lock").
				WithTextCode(TextCodeLockUnavailable)
		}

		if ok {
			return l.releaser(key, token), nil
		}

		select {
		case <-waitCtx.Done():
			return nil, ErrLockUnavailable
		case <-ticker.C:
		}
	}
}

func (l *RedisEmailLocker) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl)
			defer cancel()
			if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
				l.logger.Warn("failed to release email lock %s: %v", key, err)
			}
		})
	}
}

type noopEmailLocker struct{}

func (noopEmailLocker) Lock(context.Context, string) (func(), error) {
	return func() {}, nil
}
