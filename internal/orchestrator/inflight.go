package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashare-labs/quantd/internal/config"
)

// defaultStaleAfter is how long an in-flight entry may live before a
// new caller treats it as abandoned and starts a fresh run.
const defaultStaleAfter = 10 * time.Minute

type inflightEntry struct {
	done      chan struct{}
	resp      interface{}
	err       error
	startedAt time.Time
}

// InflightGuard serializes concurrent work per key: while a run for a
// key is in flight, later callers for the same key wait for its result
// instead of starting their own. Entries are removed when the run
// finishes, on every exit path. Entries older than the stale window are
// presumed leaked and replaced.
type InflightGuard struct {
	mu         sync.Mutex
	entries    map[string]*inflightEntry
	staleAfter time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// NewInflightGuard creates a guard with the default stale window
func NewInflightGuard() *InflightGuard {
	return &InflightGuard{
		entries:    make(map[string]*inflightEntry),
		staleAfter: defaultStaleAfter,
		now:        time.Now,
		log:        config.NewLogger("inflight_guard"),
	}
}

// Inflight reports whether a run for key is currently in flight
func (g *InflightGuard) Inflight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	return ok && g.now().Sub(e.startedAt) <= g.staleAfter
}

// Do runs fn for key, or joins an already-running fn for the same key.
// Exactly one fn executes per key at a time; every concurrent caller
// receives the same result. fn runs on a context detached from any
// single caller so one caller's cancellation cannot abort work other
// callers are waiting on. The waiting caller's own ctx still bounds how
// long it waits.
func (g *InflightGuard) Do(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	g.mu.Lock()
	if e, ok := g.entries[key]; ok {
		if g.now().Sub(e.startedAt) <= g.staleAfter {
			g.mu.Unlock()
			g.log.Debug().Str("key", key).Msg("Joining in-flight run")
			select {
			case <-e.done:
				return e.resp, e.err
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		// Stale entry: the owning goroutine leaked or is stuck. Replace
		// it so the key does not stay blocked forever.
		g.log.Warn().
			Str("key", key).
			Time("started_at", e.startedAt).
			Msg("Replacing stale in-flight entry")
		delete(g.entries, key)
	}

	entry := &inflightEntry{
		done:      make(chan struct{}),
		startedAt: g.now(),
	}
	g.entries[key] = entry
	g.mu.Unlock()

	go func() {
		defer func() {
			g.mu.Lock()
			// Only remove our own entry; a stale replacement may have
			// installed a newer one.
			if g.entries[key] == entry {
				delete(g.entries, key)
			}
			g.mu.Unlock()
			close(entry.done)
		}()
		entry.resp, entry.err = fn(context.Background())
	}()

	select {
	case <-entry.done:
		return entry.resp, entry.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
