package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/bunquery/internal/query"
	"github.com/kartikbazzad/bunbase/bunquery/internal/reply"
	"github.com/kartikbazzad/bunbase/bunquery/internal/storetest"
	"github.com/kartikbazzad/bunbase/bunquery/pkg/errors"
)

type delivered struct {
	r   reply.Reply
	err error
}

func send(t *testing.T, conn Conn, text string) []delivered {
	t.Helper()
	pq := query.Parse(text, nil, nil)
	require.NoError(t, pq.Err)
	out := make([]delivered, len(pq.Commands))
	var mu sync.Mutex
	err := conn.Send(context.Background(), pq.Commands, func(i int, r reply.Reply, err error) {
		mu.Lock()
		defer mu.Unlock()
		out[i] = delivered{r, err}
	})
	require.NoError(t, err)
	return out
}

func TestRedisDialer_Pipeline(t *testing.T) {
	srv := storetest.Start(t)
	srv.SetString("foo", "bar")
	srv.SetHash("user:1", "name", "ada", "lang", "go")
	srv.SetSortedSet("board", storetest.Member{Member: "a", Score: 1}, storetest.Member{Member: "b", Score: 2})

	conn, err := RedisDialer{DialTimeout: time.Second}.Dial(context.Background(), query.Options{OptionURL: srv.URL()})
	require.NoError(t, err)
	defer conn.Close()

	got := send(t, conn, "GET foo\nGET missing\nHGETALL user:1\nZRANGE board 0 -1 WITHSCORES\nSCARD none")
	require.Len(t, got, 5)
	for _, d := range got {
		require.NoError(t, d.err)
	}
	assert.Equal(t, reply.Bulk("bar"), got[0].r)
	assert.Equal(t, reply.Nil{}, got[1].r)
	assert.Equal(t, reply.Array{reply.Bulk("name"), reply.Bulk("ada"), reply.Bulk("lang"), reply.Bulk("go")}, got[2].r)
	assert.Equal(t, reply.Array{reply.Bulk("a"), reply.Bulk("1"), reply.Bulk("b"), reply.Bulk("2")}, got[3].r)
	assert.Equal(t, reply.Integer(0), got[4].r)
	assert.Equal(t, int64(1), srv.Accepted())
}

func TestRedisDialer_CommandErrorReply(t *testing.T) {
	srv := storetest.Start(t)
	srv.SetList("l", "x")

	conn, err := RedisDialer{}.Dial(context.Background(), query.Options{OptionURL: srv.URL()})
	require.NoError(t, err)
	defer conn.Close()

	got := send(t, conn, "GET l\nLRANGE l 0 -1")
	require.Error(t, got[0].err)
	assert.Contains(t, got[0].err.Error(), "WRONGTYPE")
	require.NoError(t, got[1].err)
	assert.Equal(t, reply.Array{reply.Bulk("x")}, got[1].r)
}

func TestRedisDialer_Password(t *testing.T) {
	srv := storetest.Start(t, storetest.WithPassword("s3cret"))
	srv.SetString("k", "v")

	_, err := RedisDialer{}.Dial(context.Background(), query.Options{OptionURL: srv.URL(), OptionPassword: "wrong"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConnection))

	conn, err := RedisDialer{}.Dial(context.Background(), query.Options{OptionURL: srv.URL(), OptionPassword: "s3cret"})
	require.NoError(t, err)
	defer conn.Close()
	got := send(t, conn, "GET k")
	assert.Equal(t, reply.Bulk("v"), got[0].r)
}

func TestRedisDialer_Unreachable(t *testing.T) {
	srv := storetest.Start(t)
	addr := srv.Addr()
	srv.Close()

	_, err := RedisDialer{DialTimeout: 500 * time.Millisecond}.Dial(context.Background(), query.Options{OptionURL: addr})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConnection))
}

func TestRedisDialer_BadOptions(t *testing.T) {
	_, err := RedisDialer{}.Dial(context.Background(), query.Options{OptionURL: "redis://host:6379", OptionDB: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConnection))

	_, err = RedisDialer{}.Dial(context.Background(), query.Options{OptionURL: "http://host"})
	assert.True(t, errors.Is(err, errors.KindConnection))
}

func TestRedisDialer_DeadlineWhileWaiting(t *testing.T) {
	srv := storetest.Start(t)
	srv.Stall("slow")

	conn, err := RedisDialer{}.Dial(context.Background(), query.Options{OptionURL: srv.URL()})
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pq := query.Parse("GET slow", nil, nil)
	err = conn.Send(ctx, pq.Commands, func(int, reply.Reply, error) {
		t.Error("no reply expected")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindTimeout))
}
