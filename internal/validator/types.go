// Package validator contains the orchestration loop driving the scoring and
// weight-submission pipeline on a recurring schedule.
package validator

import (
	"context"
)

// SubtensorClient is the subset of the substrate client the orchestrator
// depends on.
type SubtensorClient interface {
	HotkeyToUID(ctx context.Context, netuid int) (map[string]uint16, error)
	SubnetAlphaPrices(ctx context.Context, netuids []int) (map[int]float64, error)
	CurrentBlockNumber(ctx context.Context) (uint64, error)
	SubmitSetWeights(ctx context.Context, netuid int, uids, weights []uint16, versionKey uint64) (string, error)
	Close()
}

// RunSummary captures what one pipeline run saw and produced, for logging
// and tests.
type RunSummary struct {
	Pools      int
	Positions  int
	Miners     int
	Submitted  bool
	AllZero    bool
	TxHash     string
	VersionKey uint64
}
