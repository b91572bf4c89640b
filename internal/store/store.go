// Package store opens store connections for query targets.
//
// A Conn belongs to exactly one target of one request; connections are never
// pooled or shared across requests.
package store

import (
	"context"

	"github.com/kartikbazzad/bunbase/bunquery/internal/query"
	"github.com/kartikbazzad/bunbase/bunquery/internal/reply"
)

// ReplyFunc receives the reply to the command at index in the slice passed to
// Send. err is a per-command error reply from the store.
type ReplyFunc func(index int, r reply.Reply, err error)

// Conn is a single store connection.
type Conn interface {
	// Send issues every command without waiting for earlier replies and
	// calls onReply once per command. Calls may arrive in any order and from
	// any goroutine, but all of them happen before Send returns. A non-nil
	// error means the connection failed; replies not yet delivered are lost.
	Send(ctx context.Context, cmds []query.Command, onReply ReplyFunc) error
	Close() error
}

// Dialer opens a ready connection: Dial returns only after the store has
// answered, so credential failures surface here.
type Dialer interface {
	Dial(ctx context.Context, opts query.Options) (Conn, error)
}
