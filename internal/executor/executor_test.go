package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/bunquery/internal/metrics"
	"github.com/kartikbazzad/bunbase/bunquery/internal/query"
	"github.com/kartikbazzad/bunbase/bunquery/internal/reply"
	"github.com/kartikbazzad/bunbase/bunquery/internal/store"
	"github.com/kartikbazzad/bunbase/bunquery/internal/storetest"
	"github.com/kartikbazzad/bunbase/bunquery/pkg/errors"
)

// fakeConn answers every command with its own text, delivering replies in
// reverse issue order from separate goroutines.
type fakeConn struct {
	closes   atomic.Int32
	failAt   int // index whose reply is an error, -1 for none
	dropAt   int // index after which the connection fails, -1 for none
	hang     bool
	replyErr error
}

func (c *fakeConn) Send(ctx context.Context, cmds []query.Command, onReply store.ReplyFunc) error {
	if c.hang {
		<-ctx.Done()
		return errors.Interrupted(ctx, ctx.Err())
	}
	if c.dropAt >= 0 {
		for i := 0; i < c.dropAt; i++ {
			onReply(i, reply.Bulk(cmds[i].String()), nil)
		}
		return errors.Connection(stderrors.New("connection reset by peer"))
	}
	var wg sync.WaitGroup
	for i := len(cmds) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(len(cmds)-i) * time.Millisecond)
			if i == c.failAt {
				onReply(i, nil, c.replyErr)
				return
			}
			onReply(i, reply.Bulk(cmds[i].String()), nil)
		}(i)
	}
	wg.Wait()
	return nil
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	return nil
}

type fakeDialer struct {
	conn    *fakeConn
	err     error
	dials   atomic.Int32
	options query.Options
}

func (d *fakeDialer) Dial(_ context.Context, opts query.Options) (store.Conn, error) {
	d.dials.Add(1)
	d.options = opts
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func newConn() *fakeConn {
	return &fakeConn{failAt: -1, dropAt: -1}
}

func parse(t *testing.T, text string) query.ParsedQuery {
	t.Helper()
	pq := query.Parse(text, nil, query.Options{"url": "redis://fake"})
	require.NoError(t, pq.Err)
	return pq
}

func TestRun_ReassociatesByIndex(t *testing.T) {
	conn := newConn()
	d := &fakeDialer{conn: conn}
	pq := parse(t, "GET a\nGET b\nMGET c d\nTTL e\nSMEMBERS f")

	got, err := New(d).Run(context.Background(), pq)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, c := range got {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, pq.Commands[i], c.Command)
		assert.Equal(t, reply.Bulk(pq.Commands[i].String()), c.Reply)
		assert.NoError(t, c.Err)
	}
	assert.Equal(t, int32(1), d.dials.Load())
	assert.Equal(t, int32(1), conn.closes.Load())
	assert.Equal(t, pq.Options, d.options)
}

func TestRun_DialFailure(t *testing.T) {
	d := &fakeDialer{err: errors.Connection(stderrors.New("connection refused"))}
	_, err := New(d).Run(context.Background(), parse(t, "GET a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConnection))
}

func TestRun_CommandErrorFailsTarget(t *testing.T) {
	conn := newConn()
	conn.failAt = 1
	conn.replyErr = stderrors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

	_, err := New(&fakeDialer{conn: conn}).Run(context.Background(), parse(t, "GET a\nGET b\nGET c"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindCommand))
	assert.Contains(t, err.Error(), "WRONGTYPE")
	assert.Equal(t, int32(1), conn.closes.Load())
}

func TestRun_ConnectionLostMidway(t *testing.T) {
	conn := newConn()
	conn.dropAt = 1

	_, err := New(&fakeDialer{conn: conn}).Run(context.Background(), parse(t, "GET a\nGET b\nGET c"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConnection))
	assert.Equal(t, int32(1), conn.closes.Load())
}

func TestRun_ContextDeadline(t *testing.T) {
	conn := newConn()
	conn.hang = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(&fakeDialer{conn: conn}).Run(ctx, parse(t, "GET a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindTimeout))

	require.Eventually(t, func() bool { return conn.closes.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), conn.closes.Load())
}

func TestRun_ParseErrorNeverDials(t *testing.T) {
	d := &fakeDialer{conn: newConn()}
	pq := query.Parse("FOO bar", nil, nil)
	_, err := New(d).Run(context.Background(), pq)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindParse))
	assert.Equal(t, int32(0), d.dials.Load())
}

func TestRun_AgainstStore(t *testing.T) {
	srv := storetest.Start(t)
	srv.SetString("foo", "bar")
	srv.SetList("events", "a", "b", "c")

	pq := query.Parse("GET foo\nLRANGE events 0 -1\nLLEN events", nil, query.Options{store.OptionURL: srv.URL()})
	require.NoError(t, pq.Err)

	got, err := New(store.RedisDialer{DialTimeout: time.Second}).Run(context.Background(), pq)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, reply.Bulk("bar"), got[0].Reply)
	assert.Equal(t, reply.Array{reply.Bulk("a"), reply.Bulk("b"), reply.Bulk("c")}, got[1].Reply)
	assert.Equal(t, reply.Integer(3), got[2].Reply)

	assert.Equal(t, int64(1), srv.Accepted())
	require.Eventually(t, func() bool { return srv.ClosedByClient() == 1 }, time.Second, 10*time.Millisecond)
}

func TestRun_ContextCanceled(t *testing.T) {
	conn := newConn()
	conn.hang = true

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := New(&fakeDialer{conn: conn}).Run(ctx, parse(t, "GET a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindCanceled))
	assert.Contains(t, err.Error(), "query canceled")
	require.Eventually(t, func() bool { return conn.closes.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRun_WrappedStoreErrorKeepsKind(t *testing.T) {
	conn := newConn()
	conn.failAt = 0
	conn.replyErr = fmt.Errorf("read reply: %w", errors.Connection(stderrors.New("connection reset by peer")))

	_, err := New(&fakeDialer{conn: conn}).Run(context.Background(), parse(t, "GET a\nGET b"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConnection))
}

func TestRun_CountsIssuedCommandsOfFailedTargets(t *testing.T) {
	before := testutil.ToFloat64(metrics.CommandsTotal.WithLabelValues("ZLEXCOUNT"))

	conn := newConn()
	conn.failAt = 0
	conn.replyErr = stderrors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	_, err := New(&fakeDialer{conn: conn}).Run(context.Background(), parse(t, "ZLEXCOUNT z - +\nZLEXCOUNT y - +"))
	require.Error(t, err)

	assert.Equal(t, before+2, testutil.ToFloat64(metrics.CommandsTotal.WithLabelValues("ZLEXCOUNT")))
}
