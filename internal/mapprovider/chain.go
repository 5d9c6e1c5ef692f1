package mapprovider

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// ChainOptions selects and configures the providers a Chain may use.
type ChainOptions struct {
	SubscriptionKey string
	DevelopmentMode bool
	Style           Style
	Basemaps        map[Style]string
	// Preferred forces a starting provider ("azure" or "leaflet"); empty
	// picks Azure when credentials are available.
	Preferred string
}

type initializer interface {
	Adapter
	Init(ctx context.Context, style Style) error
}

// Chain walks the provider fallback order Azure → Leaflet → Placeholder.
// Initialization failure, at start or reported later by the client, moves
// to the next provider; it is never fatal.
type Chain struct {
	sink Sink
	opts ChainOptions

	mu         sync.Mutex
	candidates []initializer
	idx        int
	current    Adapter
	handlers   []ClickHandler
}

// NewChain builds a chain for sink. Azure is skipped without a subscription
// key unless development mode is on.
func NewChain(sink Sink, opts ChainOptions) *Chain {
	if opts.Style == "" {
		opts.Style = StyleSatellite
	}
	c := &Chain{sink: sink, opts: opts}

	azureOK := opts.SubscriptionKey != "" || opts.DevelopmentMode
	if azureOK && opts.Preferred != ProviderLeaflet {
		c.candidates = append(c.candidates, NewAzure(sink, opts.SubscriptionKey))
	}
	c.candidates = append(c.candidates, NewLeaflet(sink, opts.Basemaps))
	return c
}

// Start initializes the first provider that accepts the init command.
func (c *Chain) Start(ctx context.Context) Adapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idx = -1
	return c.advance(ctx)
}

// Fallback abandons the current provider and initializes the next one.
func (c *Chain) Fallback(ctx context.Context, reason string) Adapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		zap.L().Warn("mapprovider: provider failed, falling back",
			zap.String("provider", c.current.Name()),
			zap.String("reason", reason),
		)
	}
	return c.advance(ctx)
}

// Current returns the active adapter, or nil before Start.
func (c *Chain) Current() Adapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// OnClick registers h on every adapter the chain activates.
func (c *Chain) OnClick(h ClickHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
	if c.current != nil {
		c.current.OnClick(h)
	}
}

func (c *Chain) advance(ctx context.Context) Adapter {
	for c.idx+1 < len(c.candidates) {
		c.idx++
		cand := c.candidates[c.idx]
		if err := cand.Init(ctx, c.opts.Style); err != nil {
			zap.L().Warn("mapprovider: init failed",
				zap.String("provider", cand.Name()),
				zap.Error(err),
			)
			continue
		}
		c.activate(cand)
		return cand
	}
	c.idx = len(c.candidates)
	c.activate(&Placeholder{})
	return c.current
}

func (c *Chain) activate(a Adapter) {
	for _, h := range c.handlers {
		a.OnClick(h)
	}
	c.current = a
	zap.L().Info("mapprovider: provider active", zap.String("provider", a.Name()))
}
