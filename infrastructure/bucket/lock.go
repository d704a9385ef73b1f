package bucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"caseflow/pkg/stamps"
)

// ErrLockTimeout is returned when the lease was not won within the timeout.
var ErrLockTimeout = errors.New("bucket: lock acquisition timed out")

// Lock defaults. Stale leases are evicted one second past their ttl to give
// a releasing owner time to delete its own lease first.
const (
	DefaultLockTimeout = 10 * time.Second
	DefaultLockPoll    = 50 * time.Millisecond
	DefaultLockTTL     = 30 * time.Second
	staleGrace         = time.Second
)

// lease is the JSON body of one lock candidate object.
type lease struct {
	OwnerID   string  `json:"owner_id"`
	Token     string  `json:"token"`
	CreatedAt float64 `json:"created_at"`
	TTLSecs   float64 `json:"ttl"`
}

// Lock is a distributed mutex over one user root. Each contender writes a
// lease object under <root>locks/; the earliest surviving lease wins.
type Lock struct {
	store   ObjectStore
	prefix  string
	ownerID string
	token   string
	key     string
	timeout time.Duration
	poll    time.Duration
	ttl     time.Duration

	acquired bool
}

// LockOption adjusts timing on a Lock.
type LockOption func(*Lock)

func WithLockTimeout(d time.Duration) LockOption { return func(l *Lock) { l.timeout = d } }
func WithLockPoll(d time.Duration) LockOption    { return func(l *Lock) { l.poll = d } }
func WithLockTTL(d time.Duration) LockOption     { return func(l *Lock) { l.ttl = d } }

// NewLock prepares a lock over userRoot (trailing slash appended when
// missing). Nothing is written until Acquire.
func NewLock(store ObjectStore, userRoot string, opts ...LockOption) *Lock {
	if userRoot != "" && userRoot[len(userRoot)-1] != '/' {
		userRoot += "/"
	}
	host, _ := os.Hostname()
	ownerID := fmt.Sprintf("%s-%d", host, os.Getpid())
	token := fmt.Sprintf("%s-%s", ownerID, stamps.NewUUID())

	l := &Lock{
		store:   store,
		prefix:  userRoot + "locks/",
		ownerID: ownerID,
		token:   token,
		key:     userRoot + "locks/" + token + ".json",
		timeout: DefaultLockTimeout,
		poll:    DefaultLockPoll,
		ttl:     DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Token exposes the candidate token, mainly for logging.
func (l *Lock) Token() string { return l.token }

// Acquire writes this contender's lease and waits until it is the earliest
// surviving candidate. On timeout the lease is removed and ErrLockTimeout
// returned.
func (l *Lock) Acquire(ctx context.Context) error {
	body := lease{
		OwnerID:   l.ownerID,
		Token:     l.token,
		CreatedAt: float64(time.Now().UnixNano()) / float64(time.Second),
		TTLSecs:   l.ttl.Seconds(),
	}
	if err := l.store.PutJSON(ctx, l.key, body); err != nil {
		return fmt.Errorf("write lease: %w", err)
	}

	deadline := time.Now().Add(l.timeout)
	for {
		winner, err := l.electWinner(ctx)
		if err != nil {
			l.abandon(ctx)
			return err
		}
		if winner == l.key {
			l.acquired = true
			return nil
		}

		if time.Now().After(deadline) {
			l.abandon(ctx)
			return fmt.Errorf("%w after %s (winner %s)", ErrLockTimeout, l.timeout, winner)
		}
		select {
		case <-ctx.Done():
			l.abandon(ctx)
			return ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

// electWinner lists the candidates, evicts stale leases and returns the key
// of the earliest survivor. Ties on LastModified break by key.
func (l *Lock) electWinner(ctx context.Context) (string, error) {
	infos, err := l.store.ListObjects(ctx, l.prefix)
	if err != nil {
		return "", fmt.Errorf("list leases: %w", err)
	}

	now := float64(time.Now().UnixNano()) / float64(time.Second)
	survivors := infos[:0]
	for _, info := range infos {
		if info.Key == l.key {
			survivors = append(survivors, info)
			continue
		}
		if l.isStale(ctx, info.Key, now) {
			logrus.Debugf("[LOCK] evicting stale lease %s", info.Key)
			if err := l.store.Delete(ctx, info.Key); err != nil {
				logrus.WithError(err).Warnf("[LOCK] failed to evict %s", info.Key)
			}
			continue
		}
		survivors = append(survivors, info)
	}

	if len(survivors) == 0 {
		// Own lease vanished (evicted or cleared): not a winner.
		return "", nil
	}
	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].LastModified != survivors[j].LastModified {
			return survivors[i].LastModified < survivors[j].LastModified
		}
		return survivors[i].Key < survivors[j].Key
	})
	return survivors[0].Key, nil
}

// isStale reads a lease body and checks its age against ttl plus grace.
// Unreadable leases are treated as live; their own ttl evicts them later.
func (l *Lock) isStale(ctx context.Context, key string, now float64) bool {
	data, err := l.store.Get(ctx, key)
	if err != nil {
		return errors.Is(err, ErrNotFound)
	}
	var body lease
	if err := json.Unmarshal(data, &body); err != nil {
		return false
	}
	ttl := body.TTLSecs
	if ttl <= 0 {
		ttl = DefaultLockTTL.Seconds()
	}
	return now-body.CreatedAt > ttl+staleGrace.Seconds()
}

// Release deletes the lease. Safe to call without holding the lock.
func (l *Lock) Release(ctx context.Context) {
	l.abandon(ctx)
}

func (l *Lock) abandon(ctx context.Context) {
	if err := l.store.Delete(ctx, l.key); err != nil {
		logrus.WithError(err).Warnf("[LOCK] failed to release %s", l.key)
	}
	l.acquired = false
}

// WithLock runs fn while holding the lock over userRoot, releasing it on
// every path including panics.
func WithLock(ctx context.Context, store ObjectStore, userRoot string, fn func() error, opts ...LockOption) error {
	l := NewLock(store, userRoot, opts...)
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release(ctx)
	return fn()
}
