package chains

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChainTags(t *testing.T) {
	tags, err := ParseChainTags("solana, Ethereum ,base")
	require.NoError(t, err)
	assert.Equal(t, []ChainTag{ChainSolana, ChainEthereum, ChainBase}, tags)

	tags, err = ParseChainTags("")
	require.NoError(t, err)
	assert.Empty(t, tags)

	_, err = ParseChainTags("solana,dogechain")
	assert.Error(t, err)
}

func TestPoolKey(t *testing.T) {
	key := NewPoolKey(ChainEthereum, "0xabc")
	assert.Equal(t, PoolKey("ethereum:0xabc"), key)
	assert.Equal(t, ChainEthereum, key.Chain())
	assert.Equal(t, "0xabc", key.NativeID())
}

type flakyAdapter struct {
	tag  ChainTag
	fail bool
}

func (f *flakyAdapter) Tag() ChainTag { return f.tag }

func (f *flakyAdapter) ListActivePools(ctx context.Context) ([]Pool, error) {
	if f.fail {
		return nil, fmt.Errorf("rpc down")
	}
	return []Pool{{Key: NewPoolKey(f.tag, "p1"), SubnetID: 1, Active: true}}, nil
}

func (f *flakyAdapter) FetchCurrentTicks(ctx context.Context, allowed map[PoolKey]int) (map[PoolKey]PoolTick, error) {
	if f.fail {
		return nil, fmt.Errorf("rpc down")
	}
	return map[PoolKey]PoolTick{NewPoolKey(f.tag, "p1"): {Tick: 5, SubnetID: 1}}, nil
}

func (f *flakyAdapter) FetchPositions(ctx context.Context, hotkeys []string) ([]Position, error) {
	if f.fail {
		return nil, fmt.Errorf("rpc down")
	}
	return []Position{{Miner: hotkeys[0], Chain: f.tag, Pool: NewPoolKey(f.tag, "p1")}}, nil
}

func TestRegistry_FailIsolation(t *testing.T) {
	// a failing adapter degrades to empty output without aborting the rest
	r := NewRegistry()
	r.Register(&flakyAdapter{tag: ChainEthereum, fail: true})
	r.Register(&flakyAdapter{tag: ChainBase})

	ctx := context.Background()
	pools := r.CollectPools(ctx)
	require.Len(t, pools, 1)
	assert.Equal(t, ChainBase, pools[0].Key.Chain())

	ticks := r.CollectTicks(ctx, nil)
	assert.Len(t, ticks, 1)

	positions := r.CollectPositions(ctx, []string{"hk"})
	assert.Len(t, positions, 1)
}

func TestRegistry_ReplacesDuplicateTag(t *testing.T) {
	r := NewRegistry()
	r.Register(&flakyAdapter{tag: ChainBase, fail: true})
	r.Register(&flakyAdapter{tag: ChainBase})
	require.Len(t, r.All(), 1)
	assert.Len(t, r.CollectPools(context.Background()), 1)
}
