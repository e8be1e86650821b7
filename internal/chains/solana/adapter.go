// Package solana implements the chain adapter for the Raydium CLMM staking
// program.
package solana

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tensorliq/lpvalidator/internal/chains"
)

// getMultipleAccounts accepts at most this many keys per call.
const multipleAccountsChunk = 100

// Config wires the Solana adapter: RPC endpoint, staking program, and retry
// bounds.
type Config struct {
	RPCURL               string
	StakingProgramID     string
	MaxRetries           int
	InitialRetryDelay    time.Duration
	MaxRetryDelay        time.Duration
	MaxConcurrentBatches int
}

// DefaultConfig returns the documented retry defaults with endpoints unset.
func DefaultConfig() Config {
	return Config{
		MaxRetries:           3,
		InitialRetryDelay:    500 * time.Millisecond,
		MaxRetryDelay:        20 * time.Second,
		MaxConcurrentBatches: 4,
	}
}

// Adapter reads staked Raydium CLMM positions from the staking program.
type Adapter struct {
	cfg     Config
	client  *rpc.Client
	program solana.PublicKey
	ok      bool
}

func NewAdapter(cfg Config) *Adapter {
	a := &Adapter{cfg: cfg}
	if cfg.RPCURL == "" || cfg.StakingProgramID == "" {
		return a
	}
	program, err := solana.PublicKeyFromBase58(cfg.StakingProgramID)
	if err != nil {
		log.Warn().Err(err).Str("program", cfg.StakingProgramID).Msg("invalid solana staking program id, adapter disabled")
		return a
	}
	a.client = rpc.New(cfg.RPCURL)
	a.program = program
	a.ok = true
	return a
}

func (a *Adapter) Tag() chains.ChainTag {
	return chains.ChainSolana
}

// withRetry retries fn with exponential backoff up to the configured budget.
func (a *Adapter) withRetry(ctx context.Context, op string, fn func() error) error {
	delay := a.cfg.InitialRetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if a.cfg.MaxRetryDelay > 0 && delay > a.cfg.MaxRetryDelay {
				delay = a.cfg.MaxRetryDelay
			}
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		log.Warn().Err(lastErr).Str("op", op).Int("attempt", attempt).Msg("solana rpc call failed")
	}
	return fmt.Errorf("%s exhausted %d retries: %w", op, a.cfg.MaxRetries, lastErr)
}

// listPoolRecords scans the program for PoolRecord accounts.
func (a *Adapter) listPoolRecords(ctx context.Context) ([]poolRecord, error) {
	var out rpc.GetProgramAccountsResult
	err := a.withRetry(ctx, "getProgramAccounts(PoolRecord)", func() error {
		var err error
		out, err = a.client.GetProgramAccountsWithOpts(ctx, a.program, &rpc.GetProgramAccountsOpts{
			Filters: []rpc.RPCFilter{{DataSize: poolRecordSize}},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	records := make([]poolRecord, 0, len(out))
	for _, acc := range out {
		rec, err := decodePoolRecord(acc.Account.Data.GetBinary())
		if err != nil {
			log.Warn().Err(err).Str("account", acc.Pubkey.String()).Msg("skipping malformed pool record")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ListActivePools returns every active pool registered in the staking
// program.
func (a *Adapter) ListActivePools(ctx context.Context) ([]chains.Pool, error) {
	if !a.ok {
		log.Debug().Msg("solana staking program not configured, no pools")
		return nil, nil
	}

	records, err := a.listPoolRecords(ctx)
	if err != nil {
		return nil, err
	}

	pools := make([]chains.Pool, 0, len(records))
	for _, rec := range records {
		if !rec.Active || rec.PoolState.IsZero() {
			continue
		}
		pools = append(pools, chains.Pool{
			Key:      chains.NewPoolKey(chains.ChainSolana, rec.PoolState.String()),
			SubnetID: rec.SubnetID,
			Active:   true,
		})
	}
	return pools, nil
}

// FetchCurrentTicks reads tick_current from each pool's CLMM PoolState via
// data-sliced getMultipleAccounts. Unreadable pools are omitted.
func (a *Adapter) FetchCurrentTicks(ctx context.Context, allowed map[chains.PoolKey]int) (map[chains.PoolKey]chains.PoolTick, error) {
	if !a.ok {
		return nil, nil
	}

	pools, err := a.ListActivePools(ctx)
	if err != nil {
		return nil, err
	}

	var targets []chains.Pool
	var keys []solana.PublicKey
	for _, p := range pools {
		if allowed != nil {
			subnetID, ok := allowed[p.Key]
			if !ok {
				continue
			}
			p.SubnetID = subnetID
		}
		pk, err := solana.PublicKeyFromBase58(p.Key.NativeID())
		if err != nil {
			log.Warn().Err(err).Str("pool", string(p.Key)).Msg("skipping pool with invalid state address")
			continue
		}
		targets = append(targets, p)
		keys = append(keys, pk)
	}
	if len(targets) == 0 {
		return map[chains.PoolKey]chains.PoolTick{}, nil
	}

	offset := uint64(poolStateTickCurrentOff)
	length := uint64(poolStateTickLen)

	var mu sync.Mutex
	ticks := make(map[chains.PoolKey]chains.PoolTick, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.cfg.MaxConcurrentBatches, 1))
	for start := 0; start < len(keys); start += multipleAccountsChunk {
		end := min(start+multipleAccountsChunk, len(keys))
		g.Go(func() error {
			var out *rpc.GetMultipleAccountsResult
			err := a.withRetry(gctx, "getMultipleAccounts(PoolState)", func() error {
				var err error
				out, err = a.client.GetMultipleAccountsWithOpts(gctx, keys[start:end], &rpc.GetMultipleAccountsOpts{
					DataSlice: &rpc.DataSlice{Offset: &offset, Length: &length},
				})
				return err
			})
			if err != nil {
				log.Warn().Err(err).Int("chunk_start", start).Msg("pool state chunk failed, omitting its pools")
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			for i, acc := range out.Value {
				pool := targets[start+i]
				if acc == nil {
					log.Warn().Str("pool", string(pool.Key)).Msg("pool state account missing, omitting pool")
					continue
				}
				tick, err := decodeTickCurrent(acc.Data.GetBinary())
				if err != nil {
					log.Warn().Err(err).Str("pool", string(pool.Key)).Msg("tick decode failed, omitting pool")
					continue
				}
				ticks[pool.Key] = chains.PoolTick{Tick: tick, SubnetID: pool.SubnetID}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ticks, nil
}

// FetchPositions scans StakeRecord accounts and keeps those registered to
// one of the given hotkeys.
func (a *Adapter) FetchPositions(ctx context.Context, hotkeys []string) ([]chains.Position, error) {
	if !a.ok || len(hotkeys) == 0 {
		return nil, nil
	}

	wanted := make(map[string]struct{}, len(hotkeys))
	for _, h := range hotkeys {
		wanted[h] = struct{}{}
	}

	var out rpc.GetProgramAccountsResult
	err := a.withRetry(ctx, "getProgramAccounts(StakeRecord)", func() error {
		var err error
		out, err = a.client.GetProgramAccountsWithOpts(ctx, a.program, &rpc.GetProgramAccountsOpts{
			Filters: []rpc.RPCFilter{{DataSize: stakeRecordSize}},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	var positions []chains.Position
	for _, acc := range out {
		rec, err := decodeStakeRecord(acc.Account.Data.GetBinary())
		if err != nil {
			log.Warn().Err(err).Str("account", acc.Pubkey.String()).Msg("skipping malformed stake record")
			continue
		}
		if !rec.Active || rec.PoolState.IsZero() {
			continue
		}
		if _, ok := wanted[rec.Hotkey]; !ok {
			continue
		}
		lower, upper := rec.TickLower, rec.TickUpper
		if lower > upper {
			lower, upper = upper, lower
		}
		positions = append(positions, chains.Position{
			Miner:     rec.Hotkey,
			Chain:     chains.ChainSolana,
			Pool:      chains.NewPoolKey(chains.ChainSolana, rec.PoolState.String()),
			TokenID:   rec.NFT.String(),
			TickLower: lower,
			TickUpper: upper,
			Liquidity: rec.Liquidity,
		})
	}
	return positions, nil
}
