package validator

import (
	"context"
	"crypto/rand"
	"math/big"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/tensorliq/lpvalidator/internal/chains"
	"github.com/tensorliq/lpvalidator/internal/config"
	"github.com/tensorliq/lpvalidator/internal/rewards"
	"github.com/tensorliq/lpvalidator/internal/weights"
)

const (
	randomIntervalMinMinutes = 10
	randomIntervalMaxMinutes = 30
)

// emaStateFileName sits beside the weights history in the weights dir.
const emaStateFileName = "ema_state.json"

// Validator schedules and runs the scoring pipeline. A tick that fires
// while a run is still in progress is dropped.
type Validator struct {
	cfg       *config.AppConfig
	client    SubtensorClient
	registry  *chains.Registry
	allocator rewards.PoolAllocator
	ema       *rewards.EMAStore
	history   *weights.History
	clock     clockwork.Clock

	Ctx    context.Context
	Cancel context.CancelFunc
	Wg     sync.WaitGroup

	runInProgress atomic.Bool
}

// NewValidator wires the orchestrator from its collaborators. A nil clock
// defaults to the real one.
func NewValidator(cfg *config.AppConfig, client SubtensorClient, registry *chains.Registry, clock clockwork.Clock) *Validator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Validator{
		cfg:       cfg,
		client:    client,
		registry:  registry,
		allocator: rewards.NewAllocator(cfg.PoolAllocator),
		ema:       rewards.NewEMAStore(cfg.EmaAlpha, cfg.EmaEpsilon, filepath.Join(cfg.WeightsDir, emaStateFileName)),
		history:   weights.NewHistory(cfg.WeightsDir),
		clock:     clock,
		Ctx:       ctx,
		Cancel:    cancel,
	}
}

// nextInterval returns the configured interval, or a uniformly random draw
// in [10, 30] minutes when unset, so validators don't herd onto the chain.
func (v *Validator) nextInterval() time.Duration {
	if v.cfg.IntervalMinutes > 0 {
		return time.Duration(v.cfg.IntervalMinutes) * time.Minute
	}
	span := int64(randomIntervalMaxMinutes-randomIntervalMinMinutes) * int64(time.Minute)
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return randomIntervalMinMinutes * time.Minute
	}
	return time.Duration(int64(randomIntervalMinMinutes)*int64(time.Minute) + n.Int64())
}

// Start launches the scheduling loop.
func (v *Validator) Start() {
	v.Wg.Add(1)
	go v.loop()
}

func (v *Validator) loop() {
	defer v.Wg.Done()
	for {
		interval := v.nextInterval()
		log.Info().Str("interval", interval.String()).Msg("next validation run scheduled")
		select {
		case <-v.Ctx.Done():
			return
		case <-v.clock.After(interval):
		}

		if !v.runInProgress.CompareAndSwap(false, true) {
			log.Warn().Msg("previous run still in progress, dropping this tick")
			continue
		}
		v.Wg.Add(1)
		go func() {
			defer v.Wg.Done()
			defer v.runInProgress.Store(false)
			if _, err := v.RunOnce(v.Ctx); err != nil {
				log.Error().Err(err).Msg("validation run failed, waiting for next schedule")
			}
		}()
	}
}

// Stop cancels the loop, waits for an in-flight run, and closes the
// substrate client.
func (v *Validator) Stop() {
	if v.Cancel != nil {
		v.Cancel()
	}
	v.Wg.Wait()
	if v.client != nil {
		v.client.Close()
	}
}
