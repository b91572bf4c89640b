// Package tracker aggregates per-target results of batch requests.
//
// Each request has one slot per target. A request is finalized exactly once:
// either when every slot has completed, or at the first failure, whichever
// comes first. Finalized requests are removed, and later signals for them are
// ignored.
package tracker

import (
	"sync"

	"github.com/google/uuid"

	"github.com/kartikbazzad/bunbase/bunquery/internal/table"
)

// Result is the single outcome of a request.
type Result struct {
	Tables []table.Table
	Err    error
}

// Request is the caller's handle on a registered request.
type Request struct {
	ID   string
	done chan Result
}

// Done delivers the request's result exactly once.
func (r *Request) Done() <-chan Result {
	return r.done
}

type slot struct {
	pending bool
	table   table.Table
}

type state struct {
	slots []slot
	done  chan Result
}

// Registry owns the state of every in-flight request.
type Registry struct {
	mu       sync.Mutex
	requests map[string]*state
	newID    func() string
}

// NewRegistry creates an empty registry with random request ids.
func NewRegistry() *Registry {
	return &Registry{
		requests: make(map[string]*state),
		newID:    uuid.NewString,
	}
}

// Begin registers a request with n pending slots. A request without slots is
// finalized immediately with no tables.
func (r *Registry) Begin(n int) *Request {
	req := &Request{ID: r.newID(), done: make(chan Result, 1)}
	if n <= 0 {
		req.done <- Result{Tables: []table.Table{}}
		return req
	}
	st := &state{slots: make([]slot, n), done: req.done}
	for i := range st.slots {
		st.slots[i].pending = true
	}

	r.mu.Lock()
	r.requests[req.ID] = st
	r.mu.Unlock()
	return req
}

// Complete stores the table of slot i. When it was the last pending slot the
// request is finalized with every table in slot order. It reports whether this
// call finalized the request.
func (r *Registry) Complete(id string, i int, t table.Table) bool {
	r.mu.Lock()
	st, ok := r.requests[id]
	if !ok || i < 0 || i >= len(st.slots) || !st.slots[i].pending {
		r.mu.Unlock()
		return false
	}
	st.slots[i] = slot{table: t}
	for _, s := range st.slots {
		if s.pending {
			r.mu.Unlock()
			return false
		}
	}
	delete(r.requests, id)
	r.mu.Unlock()

	tables := make([]table.Table, len(st.slots))
	for i, s := range st.slots {
		tables[i] = s.table
	}
	st.done <- Result{Tables: tables}
	return true
}

// Fail finalizes the request with err unless it is already finalized. Results
// of other slots are discarded. It reports whether this call finalized the
// request.
func (r *Registry) Fail(id string, err error) bool {
	r.mu.Lock()
	st, ok := r.requests[id]
	if ok {
		delete(r.requests, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	st.done <- Result{Err: err}
	return true
}

// Pending returns how many requests are in flight.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}
