package rewards

import (
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
)

// EMAStore smooths per-hotkey weights across runs. It lives for the
// process; when given a path it also persists the map atomically after each
// update so a restart resumes from the last run.
type EMAStore struct {
	alpha   float64
	epsilon float64
	path    string
	weights map[string]float64
}

type emaState struct {
	Weights map[string]float64 `json:"weights"`
}

// NewEMAStore creates the store, loading prior state from path when set.
// A missing or corrupt state file starts the store empty.
func NewEMAStore(alpha, epsilon float64, path string) *EMAStore {
	s := &EMAStore{
		alpha:   alpha,
		epsilon: epsilon,
		path:    path,
		weights: make(map[string]float64),
	}
	if path == "" {
		return s
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to read ema state, starting empty")
		}
		return s
	}
	var state emaState
	if err := sonic.Unmarshal(data, &state); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("corrupt ema state, starting empty")
		return s
	}
	if state.Weights != nil {
		s.weights = state.Weights
	}
	log.Info().Int("hotkeys", len(s.weights)).Str("path", path).Msg("loaded ema state")
	return s
}

// Epsilon returns the configured cutoff below which a smoothed weight is
// treated as zero.
func (s *EMAStore) Epsilon() float64 {
	return s.epsilon
}

// Weights returns a copy of the current smoothed map.
func (s *EMAStore) Weights() map[string]float64 {
	out := make(map[string]float64, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out
}

// Update applies the smoothing rule over the union of the previous domain
// and the eligible raw entries (positive and finite). Runs with no eligible
// entry leave the store untouched and report updated=false: absent miners
// decay only on runs that actually scored someone.
func (s *EMAStore) Update(raw map[string]float64) (map[string]float64, bool) {
	eligible := make(map[string]float64)
	for k, v := range raw {
		if v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v) {
			eligible[k] = v
		}
	}
	if len(eligible) == 0 {
		return s.Weights(), false
	}

	keys := make(map[string]struct{}, len(s.weights)+len(eligible))
	for k := range s.weights {
		keys[k] = struct{}{}
	}
	for k := range eligible {
		keys[k] = struct{}{}
	}

	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	next := make(map[string]float64, len(ordered))
	for _, k := range ordered {
		v := s.alpha*eligible[k] + (1-s.alpha)*s.weights[k]
		if math.IsInf(v, 0) || math.IsNaN(v) {
			v = 0
		}
		next[k] = v
	}
	s.weights = next
	s.persist()
	return s.Weights(), true
}

// persist writes the state through a temp file and rename so a crash never
// leaves a torn file.
func (s *EMAStore) persist() {
	if s.path == "" {
		return
	}
	data, err := sonic.Marshal(emaState{Weights: s.weights})
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal ema state")
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("failed to create ema state dir")
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", tmp).Msg("failed to write ema state")
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("failed to replace ema state")
	}
}
