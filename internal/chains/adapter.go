package chains

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Adapter is the per-chain contract for reading staked liquidity state.
// Implementations encapsulate RPC transport, batching and retries. An
// unconfigured chain yields empty results; a failure that outlasts the
// retries is returned as an error, which Registry logs and turns into empty
// output for that chain.
type Adapter interface {
	// Tag returns the chain this adapter serves.
	Tag() ChainTag
	// ListActivePools returns every pool marked active in the chain's
	// staking contract or program.
	ListActivePools(ctx context.Context) ([]Pool, error)
	// FetchCurrentTicks returns the current tick for each pool. When
	// allowed is non-nil, pools outside it are skipped. Pools whose tick
	// cannot be read are omitted rather than failed.
	FetchCurrentTicks(ctx context.Context, allowed map[PoolKey]int) (map[PoolKey]PoolTick, error)
	// FetchPositions returns every staked position whose registered hotkey
	// is in hotkeys.
	FetchPositions(ctx context.Context, hotkeys []string) ([]Position, error)
}

// Registry holds the enabled adapters keyed by chain tag, preserving the
// order they were registered in so runs iterate deterministically.
type Registry struct {
	order    []ChainTag
	adapters map[ChainTag]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[ChainTag]Adapter)}
}

// Register adds an adapter; a second adapter for the same tag replaces the
// first.
func (r *Registry) Register(a Adapter) {
	if _, ok := r.adapters[a.Tag()]; !ok {
		r.order = append(r.order, a.Tag())
	}
	r.adapters[a.Tag()] = a
}

// All returns the registered adapters in registration order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, tag := range r.order {
		out = append(out, r.adapters[tag])
	}
	return out
}

// CollectPools gathers active pools from every adapter. An adapter failure
// is logged and contributes nothing; it never aborts the collection.
func (r *Registry) CollectPools(ctx context.Context) []Pool {
	var pools []Pool
	for _, a := range r.All() {
		ps, err := a.ListActivePools(ctx)
		if err != nil {
			log.Error().Err(err).Str("chain", string(a.Tag())).Msg("listing active pools failed, continuing without chain")
			continue
		}
		pools = append(pools, ps...)
	}
	return pools
}

// CollectTicks gathers current ticks from every adapter, filtered to the
// allowed pool set when non-nil.
func (r *Registry) CollectTicks(ctx context.Context, allowed map[PoolKey]int) map[PoolKey]PoolTick {
	ticks := make(map[PoolKey]PoolTick)
	for _, a := range r.All() {
		ts, err := a.FetchCurrentTicks(ctx, allowed)
		if err != nil {
			log.Error().Err(err).Str("chain", string(a.Tag())).Msg("fetching ticks failed, continuing without chain")
			continue
		}
		for k, v := range ts {
			ticks[k] = v
		}
	}
	return ticks
}

// CollectPositions gathers staked positions for the given hotkeys from every
// adapter.
func (r *Registry) CollectPositions(ctx context.Context, hotkeys []string) []Position {
	var positions []Position
	for _, a := range r.All() {
		ps, err := a.FetchPositions(ctx, hotkeys)
		if err != nil {
			log.Error().Err(err).Str("chain", string(a.Tag())).Msg("fetching positions failed, continuing without chain")
			continue
		}
		positions = append(positions, ps...)
	}
	return positions
}
