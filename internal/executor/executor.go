// Package executor runs the commands of one target on a single store
// connection.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kartikbazzad/bunbase/bunquery/internal/metrics"
	"github.com/kartikbazzad/bunbase/bunquery/internal/query"
	"github.com/kartikbazzad/bunbase/bunquery/internal/reply"
	"github.com/kartikbazzad/bunbase/bunquery/internal/store"
	"github.com/kartikbazzad/bunbase/bunquery/pkg/errors"
	"github.com/kartikbazzad/bunbase/bunquery/pkg/logger"
)

// Completion is the outcome of one command of a target.
type Completion struct {
	Index   int
	Command query.Command
	Reply   reply.Reply
	Err     error
}

// Executor opens one connection per target and pipelines its commands.
type Executor struct {
	dialer     store.Dialer
	log        *slog.Logger
	logQueries bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for query logging.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithQueryLogging logs every command as it is issued.
func WithQueryLogging(enabled bool) Option {
	return func(e *Executor) { e.logQueries = enabled }
}

// New creates an executor that dials through d.
func New(d store.Dialer, opts ...Option) *Executor {
	e := &Executor{dialer: d}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = logger.Get()
	}
	return e
}

// Run executes every command of pq and returns one completion per command,
// indexed like pq.Commands. The first connection failure or error reply fails
// the whole target. The connection is closed exactly once on every path.
func (e *Executor) Run(ctx context.Context, pq query.ParsedQuery) ([]Completion, error) {
	if pq.Err != nil {
		return nil, pq.Err
	}
	if len(pq.Commands) == 0 {
		return nil, errors.Parse(0, "failed to parse query - no commands")
	}

	conn, err := e.dialer.Dial(ctx, pq.Options)
	if err != nil {
		return nil, err
	}

	r := newRun(pq.Commands, conn)
	log := logger.FromContext(ctx, e.log)
	for i, cmd := range pq.Commands {
		metrics.CommandsTotal.WithLabelValues(cmd.Name()).Inc()
		if e.logQueries {
			log.Info("issuing command", "index", i, "command", cmd.Name(), "args", cmd.Args)
		}
	}

	go func() {
		if err := conn.Send(ctx, pq.Commands, r.onReply); err != nil {
			r.finish(err)
			return
		}
		r.mu.Lock()
		got := r.received
		r.mu.Unlock()
		if got < len(pq.Commands) {
			r.finish(errors.Connection(fmt.Errorf("connection returned %d of %d replies", got, len(pq.Commands))))
		}
	}()

	select {
	case <-r.done:
	case <-ctx.Done():
		r.finish(errors.Interrupted(ctx, ctx.Err()))
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.completions, nil
}

// run tracks the replies of one target. Replies are stored by the index
// captured when the command was issued, never by arrival order.
type run struct {
	conn        store.Conn
	completions []Completion

	mu        sync.Mutex
	received  int
	finished  bool
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

func newRun(cmds []query.Command, conn store.Conn) *run {
	r := &run{
		conn:        conn,
		completions: make([]Completion, len(cmds)),
		done:        make(chan struct{}),
	}
	for i, cmd := range cmds {
		r.completions[i] = Completion{Index: i, Command: cmd}
	}
	return r
}

func (r *run) onReply(index int, rep reply.Reply, err error) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	if index < 0 || index >= len(r.completions) {
		r.mu.Unlock()
		r.finish(errors.Connection(fmt.Errorf("reply for unknown command index %d", index)))
		return
	}
	if err != nil {
		r.completions[index].Err = err
		r.mu.Unlock()
		if _, ok := errors.From(err); !ok {
			err = errors.Command(r.completions[index].Command.Name(), err)
		}
		r.finish(err)
		return
	}
	r.completions[index].Reply = rep
	r.received++
	complete := r.received == len(r.completions)
	r.mu.Unlock()
	if complete {
		r.finish(nil)
	}
}

// finish records the outcome once and closes the connection.
func (r *run) finish(err error) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	r.finished = true
	r.err = err
	r.mu.Unlock()

	r.closeOnce.Do(func() { _ = r.conn.Close() })
	close(r.done)
}
