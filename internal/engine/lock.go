package engine

import (
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/lazypower/recall/internal/logging"
)

type lockToken struct {
	id       uint64
	acquired time.Time
}

// LockTable hands out named in-progress tokens. A token held longer than the
// TTL is treated as stale and force-cleared by the next acquirer.
type LockTable struct {
	mu   sync.Mutex
	ttl  time.Duration
	seq  uint64
	held map[string]lockToken
	now  func() time.Time
}

// NewLockTable creates a table with the given stale timeout.
func NewLockTable(ttl time.Duration) *LockTable {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &LockTable{ttl: ttl, held: make(map[string]lockToken), now: time.Now}
}

// TryAcquire takes the named token if it is free or stale. The returned release
// is a no-op once the token has been taken over by someone else.
func (l *LockTable) TryAcquire(name string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if tok, busy := l.held[name]; busy {
		age := now.Sub(tok.acquired)
		if age < l.ttl {
			return nil, false
		}
		err := goerr.New("stale in-progress token cleared", goerr.T(TagStaleLock),
			goerr.V("name", name), goerr.V("age", age.String()))
		logging.Warn().Err(err).Msg("lock: recovering")
	}

	l.seq++
	tok := lockToken{id: l.seq, acquired: now}
	l.held[name] = tok

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.held[name]; ok && cur.id == tok.id {
				delete(l.held, name)
			}
		})
	}, true
}

// Held reports whether a live (non-stale) token exists for name.
func (l *LockTable) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	tok, ok := l.held[name]
	return ok && l.now().Sub(tok.acquired) < l.ttl
}
