package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ashare-labs/quantd/internal/config"
	"github.com/ashare-labs/quantd/internal/signal"
)

// Pool fans an analysis request out to every enabled agent
// concurrently and fans the outcomes back in. A failure in one agent
// never affects another; the returned map always has exactly one entry
// per enabled agent.
type Pool struct {
	agents []*Agent
	log    zerolog.Logger
}

// NewPool creates a pool over the given agents. Disabled agents are
// filtered out at construction time.
func NewPool(agents []*Agent) *Pool {
	enabled := make([]*Agent, 0, len(agents))
	for _, a := range agents {
		if a.Enabled() {
			enabled = append(enabled, a)
		}
	}
	return &Pool{
		agents: enabled,
		log:    config.NewLogger("agent_pool"),
	}
}

// Agents returns the enabled agents
func (p *Pool) Agents() []*Agent {
	return p.agents
}

// ExecuteAll runs every enabled agent concurrently and waits for all
// of them. Agents guarantee they never error, but a panicking analyzer
// is converted into an error result as a defensive backstop so the
// join itself cannot fail.
func (p *Pool) ExecuteAll(ctx context.Context, symbol string) map[string]*signal.AgentResult {
	results := make(map[string]*signal.AgentResult, len(p.agents))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range p.agents {
		a := a
		g.Go(func() error {
			result := p.runSafe(gctx, a, symbol)
			mu.Lock()
			results[a.Name()] = result
			mu.Unlock()
			return nil
		})
	}
	// Tasks never return errors; Wait is a pure join.
	_ = g.Wait()

	p.log.Debug().
		Str("symbol", symbol).
		Int("agents", len(results)).
		Msg("Agent pool execution completed")

	return results
}

// ExecuteStream runs every enabled agent concurrently and delivers
// results as they complete. The channel is closed after the last
// result. Completion order is not guaranteed.
func (p *Pool) ExecuteStream(ctx context.Context, symbol string) <-chan *signal.AgentResult {
	out := make(chan *signal.AgentResult, len(p.agents))

	var wg sync.WaitGroup
	for _, a := range p.agents {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			out <- p.runSafe(ctx, a, symbol)
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func (p *Pool) runSafe(ctx context.Context, a *Agent, symbol string) (result *signal.AgentResult) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().
				Str("agent", a.Name()).
				Str("symbol", symbol).
				Interface("panic", r).
				Msg("Agent panicked")
			result = signal.ErrorResult(a.Name(), symbol, fmt.Sprintf("agent panicked: %v", r))
		}
	}()
	return a.Analyze(ctx, symbol)
}
