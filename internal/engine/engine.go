// Package engine runs batch requests: it parses every target, executes the
// targets concurrently, shapes and merges their replies, and aggregates the
// per-target tables into one response.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/bunbase/bunquery/internal/executor"
	"github.com/kartikbazzad/bunbase/bunquery/internal/metrics"
	"github.com/kartikbazzad/bunbase/bunquery/internal/query"
	"github.com/kartikbazzad/bunbase/bunquery/internal/shape"
	"github.com/kartikbazzad/bunbase/bunquery/internal/store"
	"github.com/kartikbazzad/bunbase/bunquery/internal/table"
	"github.com/kartikbazzad/bunbase/bunquery/internal/tracker"
	"github.com/kartikbazzad/bunbase/bunquery/pkg/errors"
	"github.com/kartikbazzad/bunbase/bunquery/pkg/logger"
)

// Config tunes the engine.
type Config struct {
	Timeout              time.Duration // per batch; 0 disables
	MaxConcurrentTargets int           // targets running at once across all batches
	LogQueries           bool
	LogTimings           bool
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Timeout:              30 * time.Second,
		MaxConcurrentTargets: 256,
	}
}

// Batch is one request: several targets sharing connection options.
type Batch struct {
	Targets       []query.Target
	Substitutions map[string]string
	Options       query.Options
}

// Engine executes batches. It is safe for concurrent use.
type Engine struct {
	cfg      Config
	dialer   store.Dialer
	exec     *executor.Executor
	registry *tracker.Registry
	pool     *ants.Pool
	log      *slog.Logger
}

// New creates an engine dialing through d.
func New(d store.Dialer, cfg Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = logger.Get()
	}
	if cfg.MaxConcurrentTargets <= 0 {
		cfg.MaxConcurrentTargets = DefaultConfig().MaxConcurrentTargets
	}
	pool, err := ants.NewPool(cfg.MaxConcurrentTargets, ants.WithPanicHandler(func(v any) {
		log.Error("target worker panic", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("create target pool: %w", err)
	}
	return &Engine{
		cfg:      cfg,
		dialer:   d,
		exec:     executor.New(d, executor.WithLogger(log), executor.WithQueryLogging(cfg.LogQueries)),
		registry: tracker.NewRegistry(),
		pool:     pool,
		log:      log,
	}, nil
}

// Close releases the worker pool, waiting briefly for running targets.
func (e *Engine) Close() error {
	return e.pool.ReleaseTimeout(3 * time.Second)
}

// Pending returns the number of batches in flight.
func (e *Engine) Pending() int {
	return e.registry.Pending()
}

// Query runs every target of b and returns their tables in target order. The
// first error of any target, parse errors included, is the batch's error and
// no tables are returned.
func (e *Engine) Query(ctx context.Context, b Batch) ([]table.Table, error) {
	tables, err := e.query(ctx, b)
	outcome := "ok"
	if err != nil {
		outcome = errors.KindOf(err).String()
	}
	metrics.BatchesTotal.WithLabelValues(outcome).Inc()
	return tables, err
}

func (e *Engine) query(ctx context.Context, b Batch) ([]table.Table, error) {
	parsed := make([]query.ParsedQuery, 0, len(b.Targets))
	for _, tg := range b.Targets {
		pq := query.Parse(tg.Text, b.Substitutions, b.Options)
		if pq.Err != nil {
			return nil, pq.Err
		}
		parsed = append(parsed, pq)
	}

	var cancel context.CancelFunc
	if e.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	// Cancelling after finalization stops targets that lost the race.
	defer cancel()

	req := e.registry.Begin(len(parsed))
	ctx = logger.ContextWithRequestID(ctx, req.ID)
	metrics.BatchesInFlight.Inc()
	defer metrics.BatchesInFlight.Dec()

	for i, pq := range parsed {
		i, pq := i, pq
		err := e.pool.Submit(func() {
			e.runTarget(ctx, req.ID, i, pq)
		})
		if err != nil {
			e.registry.Fail(req.ID, errors.New(errors.KindInternal, "schedule target", err))
			break
		}
	}

	select {
	case res := <-req.Done():
		return res.Tables, res.Err
	case <-ctx.Done():
		e.registry.Fail(req.ID, errors.Interrupted(ctx, ctx.Err()))
		res := <-req.Done()
		return res.Tables, res.Err
	}
}

func (e *Engine) runTarget(ctx context.Context, requestID string, i int, pq query.ParsedQuery) {
	start := time.Now()
	t, err := e.RunTarget(ctx, pq)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = errors.KindOf(err).String()
	}
	metrics.TargetDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())

	log := logger.FromContext(ctx, e.log)
	if err != nil {
		log.Debug("target failed", "target", i, "error", err)
		e.registry.Fail(requestID, err)
		return
	}
	if e.cfg.LogTimings {
		log.Info("target finished", "target", i, "commands", len(pq.Commands),
			"rows", len(t.Rows), "elapsed_ms", float64(elapsed.Microseconds())/1000)
	}
	e.registry.Complete(requestID, i, t)
}

// RunTarget executes one parsed query on its own connection and merges the
// shaped rows of its commands into a table. With more than one command every
// row carries the 1-based number of the command that produced it.
func (e *Engine) RunTarget(ctx context.Context, pq query.ParsedQuery) (table.Table, error) {
	completions, err := e.exec.Run(ctx, pq)
	if err != nil {
		return table.Table{}, err
	}
	lists := make([][]shape.Row, len(completions))
	for i, c := range completions {
		rows, err := shape.Shape(c.Command, c.Reply)
		if err != nil {
			return table.Table{}, err
		}
		if len(completions) > 1 {
			shape.Stamp(rows, i+1)
		}
		lists[i] = rows
	}
	return table.Merge(lists), nil
}

// Ping opens a connection with opts and closes it again.
func (e *Engine) Ping(ctx context.Context, opts query.Options) error {
	conn, err := e.dialer.Dial(ctx, opts)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Search serves template variable lookups. Template queries are not
// supported: the text is still parsed so syntax errors are reported first.
func (e *Engine) Search(ctx context.Context, text string, opts query.Options) error {
	pq := query.Parse(text, nil, opts)
	if pq.Err != nil {
		return pq.Err
	}
	return errors.Unsupported("Unsupported templates query")
}
