package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type RunnerConfig struct {
	// MaxAttempts bounds fetch+persist attempts per cycle.
	MaxAttempts int
	// RetryInterval is the fixed wait after every failed attempt except the last.
	RetryInterval time.Duration
}

// Sink persists parsed sessions. *Store implements it.
type Sink interface {
	InsertBatch(ctx context.Context, sessions []Session) (BatchResult, error)
}

type CycleState string

const (
	CycleSuccess CycleState = "success"
	CycleGivenUp CycleState = "given_up"
)

// CycleResult describes one ingestion cycle. A given-up cycle is not an
// error: Saved is zero and LastError says why.
type CycleResult struct {
	ID         string     `json:"id"`
	State      CycleState `json:"state"`
	Attempts   int        `json:"attempts"`
	Fetched    int        `json:"fetched"`
	Skipped    int        `json:"skipped"`
	Saved      int        `json:"saved"`
	Created    int        `json:"created"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	LastError  string     `json:"last_error,omitempty"`
}

// Runner is the retry orchestrator. The scheduler and manual triggers both go
// through RunCycle; cycles never overlap.
type Runner struct {
	cfg     RunnerConfig
	fetcher Fetcher
	parser  *Parser
	sink    Sink
	log     *slog.Logger
	metrics *Metrics

	cycleMu sync.Mutex

	lastMu sync.RWMutex
	last   *CycleResult
}

func NewRunner(cfg RunnerConfig, fetcher Fetcher, parser *Parser, sink Sink, logger *slog.Logger, metrics *Metrics) (*Runner, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("MaxAttempts must be positive")
	}
	if cfg.RetryInterval < 0 {
		return nil, fmt.Errorf("RetryInterval must not be negative")
	}
	if parser == nil {
		parser = NewParser(ParserConfig{})
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Runner{
		cfg:     cfg,
		fetcher: fetcher,
		parser:  parser,
		sink:    sink,
		log:     logger,
		metrics: metrics,
	}, nil
}

type attemptStats struct {
	fetched int
	skipped int
	batch   BatchResult
}

// RunCycle runs up to MaxAttempts attempts of fetch, parse and insert,
// waiting RetryInterval between failed attempts. It never returns an error;
// callers read the outcome from the result.
func (r *Runner) RunCycle(ctx context.Context) CycleResult {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	res := CycleResult{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := r.log.With("cycle", res.ID)

	// A cycle queued behind another one may find its context already gone.
	if err := ctx.Err(); err != nil {
		res.FinishedAt = res.StartedAt
		res.State = CycleGivenUp
		res.LastError = err.Error()
		log.Info("cycle cancelled before first attempt", "err", err)
		r.metrics.observeCycle(res)
		return res
	}

	stats, err := retry(ctx, r.cfg.MaxAttempts, r.cfg.RetryInterval, func() (attemptStats, error) {
		res.Attempts++
		log.Info("fetch attempt", "attempt", res.Attempts, "max", r.cfg.MaxAttempts)
		st, err := r.attempt(ctx, log)
		r.metrics.observeAttempt(err)
		if err != nil {
			log.Warn("attempt failed", "attempt", res.Attempts, "max", r.cfg.MaxAttempts, "err", err)
			if res.Attempts < r.cfg.MaxAttempts && ctx.Err() == nil {
				log.Info("waiting before retry", "wait", r.cfg.RetryInterval)
			}
		}
		return st, err
	})

	res.FinishedAt = time.Now().UTC()
	if err != nil {
		res.State = CycleGivenUp
		res.LastError = err.Error()
		log.Error("cycle given up", "attempts", res.Attempts, "err", err)
	} else {
		res.State = CycleSuccess
		res.Fetched = stats.fetched
		res.Skipped = stats.skipped
		res.Saved = stats.batch.Attempted
		res.Created = stats.batch.Created
		res.Failed = stats.batch.Failed
		log.Info("cycle succeeded",
			"attempts", res.Attempts,
			"saved", res.Saved,
			"fetched", res.Fetched,
			"created", res.Created,
			"skipped", res.Skipped,
			"failed", res.Failed,
			"elapsed", res.FinishedAt.Sub(res.StartedAt))
	}
	r.metrics.observeCycle(res)

	r.lastMu.Lock()
	r.last = &res
	r.lastMu.Unlock()
	return res
}

func (r *Runner) attempt(ctx context.Context, log *slog.Logger) (attemptStats, error) {
	raws, err := r.fetcher.FetchBatch(ctx)
	if err != nil {
		return attemptStats{}, err
	}

	sessions := make([]Session, 0, len(raws))
	skipped := 0
	for i, raw := range raws {
		s, err := r.parser.Parse(raw)
		if err != nil {
			skipped++
			log.Warn("skip record", "index", i, "err", err)
			continue
		}
		sessions = append(sessions, s)
	}

	batch, err := r.sink.InsertBatch(ctx, sessions)
	if err != nil {
		return attemptStats{}, err
	}
	return attemptStats{fetched: len(raws), skipped: skipped, batch: batch}, nil
}

// LastResult returns the most recent finished cycle.
func (r *Runner) LastResult() (CycleResult, bool) {
	r.lastMu.RLock()
	defer r.lastMu.RUnlock()
	if r.last == nil {
		return CycleResult{}, false
	}
	return *r.last, true
}
