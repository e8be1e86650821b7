package weights

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
)

// HistoryFileName is the submission log inside the weights directory.
const HistoryFileName = "weights_history.json"

// HistoryEntry is one successful submission record.
type HistoryEntry struct {
	Timestamp  string            `json:"timestamp"`
	TxHash     string            `json:"txHash"`
	VersionKey uint64            `json:"versionKey"`
	Weights    map[string]uint16 `json:"weights"`
}

// History appends submission records to a single JSON file. Failures are
// logged and swallowed: the submission already happened and must not be
// failed retroactively.
type History struct {
	path string
}

func NewHistory(dir string) *History {
	return &History{path: filepath.Join(dir, HistoryFileName)}
}

// Append records one submission. The file holds a JSON array and is
// replaced through a temp file so a crash never leaves it torn.
func (h *History) Append(txHash string, versionKey uint64, vector SubmissionVector) {
	entry := HistoryEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		TxHash:     txHash,
		VersionKey: versionKey,
		Weights:    make(map[string]uint16, len(vector.UIDs)),
	}
	for i, uid := range vector.UIDs {
		entry.Weights[strconv.Itoa(int(uid))] = vector.Weights[i]
	}

	var entries []HistoryEntry
	if data, err := os.ReadFile(h.path); err == nil {
		if err := sonic.Unmarshal(data, &entries); err != nil {
			log.Warn().Err(err).Str("path", h.path).Msg("corrupt weights history, starting a new file")
			entries = nil
		}
	}
	entries = append(entries, entry)

	data, err := sonic.Marshal(entries)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal weights history")
		return
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		log.Warn().Err(err).Str("path", h.path).Msg("failed to create weights dir")
		return
	}
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", tmp).Msg("failed to write weights history")
		return
	}
	if err := os.Rename(tmp, h.path); err != nil {
		log.Warn().Err(err).Str("path", h.path).Msg("failed to replace weights history")
	}
}
