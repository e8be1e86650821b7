package validator

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/tensorliq/lpvalidator/internal/chains"
	"github.com/tensorliq/lpvalidator/internal/rewards"
	"github.com/tensorliq/lpvalidator/internal/weights"
)

// totalReward is the reward mass distributed across pools each run; the
// final vector is scale-invariant so any positive constant works.
const totalReward = 1.0

// RunOnce executes the full pipeline: neurons, positions, ticks, scoring,
// aggregation, smoothing, scaling, submission, history. Any error aborts
// the run before submission.
func (v *Validator) RunOnce(ctx context.Context) (RunSummary, error) {
	summary := RunSummary{}
	netuid := v.cfg.Netuid

	hotkeyToUID, err := v.client.HotkeyToUID(ctx, netuid)
	if err != nil {
		return summary, fmt.Errorf("failed to load hotkey-to-uid map: %w", err)
	}
	if len(hotkeyToUID) == 0 {
		return summary, fmt.Errorf("empty uid map for netuid %d, not submitting", netuid)
	}

	hotkeys := make([]string, 0, len(hotkeyToUID))
	for h := range hotkeyToUID {
		hotkeys = append(hotkeys, h)
	}
	sort.Strings(hotkeys)

	positions := v.registry.CollectPositions(ctx, hotkeys)
	summary.Positions = len(positions)

	pools := v.registry.CollectPools(ctx)
	summary.Pools = len(pools)

	// the pool listing defines both the tick filter and the subnet set fed
	// to the alpha-price query
	allowed := make(map[chains.PoolKey]int, len(pools))
	subnetSet := make(map[int]struct{})
	for _, p := range pools {
		if !p.Active {
			continue
		}
		allowed[p.Key] = p.SubnetID
		subnetSet[p.SubnetID] = struct{}{}
	}
	netuids := make([]int, 0, len(subnetSet))
	for s := range subnetSet {
		netuids = append(netuids, s)
	}
	sort.Ints(netuids)

	ticks := v.registry.CollectTicks(ctx, allowed)

	alphaPrices, err := v.client.SubnetAlphaPrices(ctx, netuids)
	if err != nil {
		log.Warn().Err(err).Msg("alpha price query failed, distributing without market prices")
		alphaPrices = map[int]float64{}
	}

	allocation := v.allocator.Allocate(rewards.AllocatorInput{
		Positions:              positions,
		Ticks:                  ticks,
		AlphaPrices:            alphaPrices,
		ReservedShareSubnet0:   v.cfg.ReservedShareSubnet0,
		ReservedShareSubnet106: v.cfg.ReservedShareSubnet106,
	})
	log.Debug().Interface("alpha_by_subnet", allocation.AlphaBySubnet).Int("weighted_pools", len(allocation.Weights)).Msg("pool weights allocated")

	emissions := rewards.ScorePositions(positions, ticks, allocation.Weights, totalReward)
	minerRaw := rewards.AggregateMinerWeights(emissions)
	summary.Miners = len(minerRaw)

	var ema map[string]float64
	if v.cfg.UseEMA {
		ema, _ = v.ema.Update(minerRaw)
	}

	vector, err := weights.BuildSubmission(weights.PolicyInput{
		MinerRaw:       minerRaw,
		HotkeyToUID:    hotkeyToUID,
		Ema:            ema,
		Epsilon:        v.cfg.EmaEpsilon,
		BurnPercentage: v.cfg.BurnPercentage,
	})
	if err != nil {
		return summary, fmt.Errorf("failed to build submission vector: %w", err)
	}
	summary.AllZero = vector.AllZero
	logVector(vector)

	versionKey, err := v.client.CurrentBlockNumber(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to read version key: %w", err)
	}
	summary.VersionKey = versionKey

	txHash, err := v.client.SubmitSetWeights(ctx, netuid, vector.UIDs, vector.Weights, versionKey)
	if err != nil {
		return summary, fmt.Errorf("set_weights submission failed: %w", err)
	}
	summary.TxHash = txHash
	summary.Submitted = true

	v.history.Append(txHash, versionKey, vector)

	log.Info().
		Int("pools", summary.Pools).
		Int("positions", summary.Positions).
		Int("miners", summary.Miners).
		Bool("all_zero", summary.AllZero).
		Str("tx_hash", txHash).
		Msg("validation run complete")
	return summary, nil
}

// logVector logs the normalized shape of the submission for operators; the
// on-chain vector itself is integer.
func logVector(vector weights.SubmissionVector) {
	if vector.AllZero {
		log.Info().Int("uids", len(vector.UIDs)).Msg("no in-range positions, submitting all-zero vector")
		return
	}
	floats := make([]float64, len(vector.Weights))
	for i, w := range vector.Weights {
		floats[i] = float64(w)
	}
	normalized := rewards.NormalizeWeights(floats)
	nonZero := 0
	for _, w := range normalized {
		if w > 0 {
			nonZero++
		}
	}
	log.Info().Int("uids", len(vector.UIDs)).Int("non_zero", nonZero).Msg("submission vector built")
}
