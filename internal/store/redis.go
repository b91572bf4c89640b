package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kartikbazzad/bunbase/bunquery/internal/query"
	"github.com/kartikbazzad/bunbase/bunquery/internal/reply"
	"github.com/kartikbazzad/bunbase/bunquery/pkg/errors"
)

// Connection option keys understood by RedisDialer.
const (
	OptionURL      = "url"
	OptionUsername = "username"
	OptionPassword = "password"
	OptionDB       = "db"
)

// DefaultURL is used when the options carry no url.
const DefaultURL = "redis://127.0.0.1:6379"

// RedisDialer dials Redis-compatible stores with go-redis.
type RedisDialer struct {
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// Dial opens one connection and pings it.
func (d RedisDialer) Dial(ctx context.Context, opts query.Options) (Conn, error) {
	ro, err := d.options(opts)
	if err != nil {
		return nil, errors.Connection(err)
	}
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if ctx.Err() != nil {
			return nil, errors.Interrupted(ctx, err)
		}
		return nil, errors.Connection(err)
	}
	return &redisConn{client: client}, nil
}

func (d RedisDialer) options(opts query.Options) (*redis.Options, error) {
	url := opts[OptionURL]
	if url == "" {
		url = DefaultURL
	}
	if !strings.Contains(url, "://") {
		url = "redis://" + url
	}
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u := opts[OptionUsername]; u != "" {
		ro.Username = u
	}
	if p := opts[OptionPassword]; p != "" {
		ro.Password = p
	}
	if db := opts[OptionDB]; db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid db %q: %w", db, err)
		}
		ro.DB = n
	}

	// RESP2 keeps hash and sorted-set replies as flat arrays.
	ro.Protocol = 2
	ro.PoolSize = 1
	ro.MinIdleConns = 0
	ro.MaxRetries = -1
	ro.DisableIndentity = true
	ro.ContextTimeoutEnabled = true
	if d.DialTimeout > 0 {
		ro.DialTimeout = d.DialTimeout
	}
	if d.ReadTimeout > 0 {
		ro.ReadTimeout = d.ReadTimeout
	}
	return ro, nil
}

type redisConn struct {
	client *redis.Client
}

func (c *redisConn) Send(ctx context.Context, cmds []query.Command, onReply ReplyFunc) error {
	pipe := c.client.Pipeline()
	issued := make([]*redis.Cmd, len(cmds))
	for i, cmd := range cmds {
		issued[i] = pipe.Do(ctx, cmd.Argv()...)
	}
	if _, err := pipe.Exec(ctx); err != nil && !isReplyError(err) {
		if ctx.Err() != nil {
			return errors.Interrupted(ctx, err)
		}
		if isTimeout(err) {
			return errors.Timeout(err)
		}
		return errors.Connection(err)
	}
	for i, rc := range issued {
		v, err := rc.Result()
		switch {
		case err == redis.Nil:
			onReply(i, reply.Nil{}, nil)
		case err != nil:
			onReply(i, nil, err)
		default:
			r, err := reply.FromValue(v)
			if err != nil {
				err = errors.Shape(cmds[i].Name(), "%v", err)
			}
			onReply(i, r, err)
		}
	}
	return nil
}

func (c *redisConn) Close() error {
	return c.client.Close()
}

func isTimeout(err error) bool {
	var nerr net.Error
	return stderrors.As(err, &nerr) && nerr.Timeout()
}

// isReplyError reports whether err is an error reply sent by the store (as
// opposed to a network failure).
func isReplyError(err error) bool {
	var rerr redis.Error
	return stderrors.As(err, &rerr)
}
