// Package evm implements the chain adapter for EVM chains whose staking
// contracts wrap Uniswap V3 position NFTs.
package evm

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tensorliq/lpvalidator/internal/chains"
)

// Config wires one EVM chain: its RPC endpoint and contract addresses.
type Config struct {
	Tag             chains.ChainTag
	RPCURL          string
	StakingContract string
	Factory         string
	PositionManager string
	Multicall       string
	Retry           RetryConfig
}

// Adapter reads staked Uniswap V3 positions from one EVM chain.
type Adapter struct {
	cfg Config
	rpc *rpcClient
}

func NewAdapter(cfg Config) *Adapter {
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Adapter{
		cfg: cfg,
		rpc: newRPCClient(cfg.RPCURL, cfg.Retry),
	}
}

func (a *Adapter) Tag() chains.ChainTag {
	return a.cfg.Tag
}

// configured reports whether the chain has a usable staking target; an
// unset contract address yields empty results, not errors.
func (a *Adapter) configured() bool {
	return a.cfg.RPCURL != "" && a.cfg.StakingContract != "" && a.cfg.StakingContract != zeroAddress
}

// ListActivePools queries getAllPools on the staking contract.
func (a *Adapter) ListActivePools(ctx context.Context) ([]chains.Pool, error) {
	if !a.configured() {
		log.Debug().Str("chain", string(a.cfg.Tag)).Msg("staking contract not configured, no pools")
		return nil, nil
	}

	result, err := a.rpc.ethCall(ctx, a.cfg.StakingContract, encodeCall(selGetAllPools, nil))
	if err != nil {
		return nil, err
	}
	addrs, subnets, err := decodeGetAllPools(result)
	if err != nil {
		return nil, err
	}

	pools := make([]chains.Pool, 0, len(addrs))
	for i, addr := range addrs {
		if addr == zeroAddress {
			continue
		}
		pools = append(pools, chains.Pool{
			Key:      chains.NewPoolKey(a.cfg.Tag, strings.ToLower(addr)),
			SubnetID: subnets[i],
			Active:   true,
		})
	}
	return pools, nil
}

// FetchCurrentTicks reads slot0 for each pool in one JSON-RPC batch. Pools
// whose tick cannot be read are omitted.
func (a *Adapter) FetchCurrentTicks(ctx context.Context, allowed map[chains.PoolKey]int) (map[chains.PoolKey]chains.PoolTick, error) {
	if !a.configured() {
		return nil, nil
	}

	pools, err := a.ListActivePools(ctx)
	if err != nil {
		return nil, err
	}

	var targets []chains.Pool
	for _, p := range pools {
		if allowed != nil {
			subnetID, ok := allowed[p.Key]
			if !ok {
				continue
			}
			p.SubnetID = subnetID
		}
		targets = append(targets, p)
	}
	if len(targets) == 0 {
		return map[chains.PoolKey]chains.PoolTick{}, nil
	}

	calls := make([]ethCallRequest, len(targets))
	for i, p := range targets {
		calls[i] = ethCallRequest{To: p.Key.NativeID(), Data: encodeCall(selSlot0, nil)}
	}
	results, err := a.rpc.ethCallBatch(ctx, calls)
	if err != nil {
		return nil, err
	}

	ticks := make(map[chains.PoolKey]chains.PoolTick, len(targets))
	for i, res := range results {
		if res.Err != nil {
			log.Warn().Err(res.Err).Str("pool", string(targets[i].Key)).Msg("slot0 read failed, omitting pool")
			continue
		}
		tick, err := decodeSlot0Tick(res.Result)
		if err != nil {
			log.Warn().Err(err).Str("pool", string(targets[i].Key)).Msg("slot0 decode failed, omitting pool")
			continue
		}
		ticks[targets[i].Key] = chains.PoolTick{Tick: tick, SubnetID: targets[i].SubnetID}
	}
	return ticks, nil
}

// stakeRef is one staked token discovered for a hotkey before its position
// details are resolved.
type stakeRef struct {
	miner   string
	tokenID *big.Int
	pool    string
}

// FetchPositions resolves every staked position registered to the given
// hotkeys: first the stake listing per hotkey chunk, then the position
// details per token chunk.
func (a *Adapter) FetchPositions(ctx context.Context, hotkeys []string) ([]chains.Position, error) {
	if !a.configured() || len(hotkeys) == 0 {
		return nil, nil
	}

	refs, err := a.fetchStakes(ctx, hotkeys)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return a.resolvePositions(ctx, refs)
}

func (a *Adapter) fetchStakes(ctx context.Context, hotkeys []string) ([]stakeRef, error) {
	batchSize := a.cfg.Retry.PositionBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	var mu sync.Mutex
	var refs []stakeRef

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.cfg.Retry.MaxConcurrentBatches, 1))
	for start := 0; start < len(hotkeys); start += batchSize {
		chunk := hotkeys[start:min(start+batchSize, len(hotkeys))]
		g.Go(func() error {
			result, err := a.rpc.ethCall(gctx, a.cfg.StakingContract, encodeCall(selGetStakesByMultipleHotkeys, encodeStringArray(chunk)))
			if err != nil {
				return err
			}
			tokenIDs, pools, err := decodeStakes(result)
			if err != nil {
				return err
			}
			if len(tokenIDs) != len(chunk) {
				log.Warn().Int("expected", len(chunk)).Int("got", len(tokenIDs)).Str("chain", string(a.cfg.Tag)).Msg("stake listing length mismatch, skipping chunk")
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			for i, hotkey := range chunk {
				for j, tokenID := range tokenIDs[i] {
					if j >= len(pools[i]) || pools[i][j] == zeroAddress {
						continue
					}
					refs = append(refs, stakeRef{miner: hotkey, tokenID: tokenID, pool: strings.ToLower(pools[i][j])})
				}
			}
			return nil
		})
		if a.cfg.Retry.BatchDelay > 0 && start+batchSize < len(hotkeys) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.cfg.Retry.BatchDelay):
			}
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return refs, nil
}

func (a *Adapter) resolvePositions(ctx context.Context, refs []stakeRef) ([]chains.Position, error) {
	manager := a.cfg.PositionManager
	if manager == "" || manager == zeroAddress {
		log.Debug().Str("chain", string(a.cfg.Tag)).Msg("position manager not configured, no positions")
		return nil, nil
	}

	batchSize := a.cfg.Retry.PositionBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	var mu sync.Mutex
	var positions []chains.Position

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.cfg.Retry.MaxConcurrentBatches, 1))
	for start := 0; start < len(refs); start += batchSize {
		chunk := refs[start:min(start+batchSize, len(refs))]
		g.Go(func() error {
			calls := make([]ethCallRequest, len(chunk))
			for i, ref := range chunk {
				calls[i] = ethCallRequest{To: manager, Data: encodeCall(selPositions, encodeUint256(ref.tokenID))}
			}
			results, err := a.rpc.ethCallBatch(gctx, calls)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			for i, res := range results {
				ref := chunk[i]
				if res.Err != nil {
					log.Warn().Err(res.Err).Str("token_id", ref.tokenID.String()).Msg("position read failed, skipping record")
					continue
				}
				info, err := decodePosition(res.Result)
				if err != nil {
					log.Warn().Err(err).Str("token_id", ref.tokenID.String()).Msg("position decode failed, skipping record")
					continue
				}
				lower, upper := info.TickLower, info.TickUpper
				if lower > upper {
					lower, upper = upper, lower
				}
				positions = append(positions, chains.Position{
					Miner:     ref.miner,
					Chain:     a.cfg.Tag,
					Pool:      chains.NewPoolKey(a.cfg.Tag, ref.pool),
					TokenID:   ref.tokenID.String(),
					TickLower: lower,
					TickUpper: upper,
					Liquidity: info.Liquidity,
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return positions, nil
}
