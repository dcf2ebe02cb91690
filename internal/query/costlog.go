package query

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aman-CERP/hybridrag3/internal/config"
	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
)

// CostRecord is one append-only line in the cost log.
type CostRecord struct {
	Time       string  `json:"time"`
	TokensIn   int     `json:"tokens_in"`
	TokensOut  int     `json:"tokens_out"`
	CostInput  float64 `json:"cost_input"`
	CostOutput float64 `json:"cost_output"`
	CostTotal  float64 `json:"cost_total"`
	Currency   string  `json:"currency"`
}

// FileCostLog appends CostRecords as JSON lines to a single file, guarded
// by a mutex the way netgate.Gate guards its own ring buffer against
// concurrent queries.
type FileCostLog struct {
	mu   sync.Mutex
	path string
	cfg  config.CostConfig
}

// NewFileCostLog opens (creating if necessary) the cost log file named by
// cfg.LogFile.
func NewFileCostLog(cfg config.CostConfig) (*FileCostLog, error) {
	if cfg.LogFile == "" {
		return &FileCostLog{cfg: cfg}, nil
	}
	if dir := filepath.Dir(cfg.LogFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, hyerr.New(hyerr.ErrCodeFilePermission, "creating cost log directory", err)
		}
	}
	return &FileCostLog{path: cfg.LogFile, cfg: cfg}, nil
}

// EstimateCost computes the per-1K-token cost for a call from the
// configured rates.
func EstimateCost(cfg config.CostConfig, tokensIn, tokensOut int) CostRecord {
	costIn := float64(tokensIn) / 1000 * cfg.InputPer1KTokens
	costOut := float64(tokensOut) / 1000 * cfg.OutputPer1KTokens
	return CostRecord{
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
		CostInput:  costIn,
		CostOutput: costOut,
		CostTotal:  costIn + costOut,
		Currency:   cfg.Currency,
	}
}

// Record appends rec to the log file. A no-op if no log file is
// configured, so cost tracking is opt-in without special-casing callers.
func (l *FileCostLog) Record(ctx context.Context, rec CostRecord) error {
	if l.path == "" {
		return nil
	}
	rec.Time = time.Now().UTC().Format(time.RFC3339Nano)

	line, err := json.Marshal(rec)
	if err != nil {
		return hyerr.InternalError("marshaling cost record", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return hyerr.New(hyerr.ErrCodeFilePermission, "opening cost log", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(line); err != nil {
		return hyerr.New(hyerr.ErrCodeDiskFull, "writing cost record", err)
	}
	return nil
}
