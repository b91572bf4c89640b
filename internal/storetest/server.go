// Package storetest runs an in-process RESP2 server holding fixture data, for
// tests that need a real store connection. It answers the read commands the
// query engine issues plus AUTH and PING.
package storetest

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// Member is one sorted-set entry.
type Member struct {
	Member string
	Score  float64
}

// Server is a fixture store. Populate it with the Set* methods before or
// while clients are connected.
type Server struct {
	listener net.Listener
	password string

	mu      sync.RWMutex
	strs    map[string]string
	hashes  map[string][][2]string
	lists   map[string][]string
	sets    map[string][]string
	zsets   map[string][]Member
	ttls    map[string]int64
	stalled map[string]bool

	connsMu  sync.Mutex
	conns    map[net.Conn]struct{}
	accepted atomic.Int64
	closed   atomic.Int64
	commands atomic.Int64
	wg       sync.WaitGroup
	done     chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithPassword makes the server reject clients that do not AUTH with password.
func WithPassword(password string) Option {
	return func(s *Server) { s.password = password }
}

// Start listens on 127.0.0.1:0 and stops the server when the test ends.
func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()
	s, err := Listen("127.0.0.1:0", opts...)
	if err != nil {
		t.Fatalf("storetest: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// Listen starts a server on addr.
func Listen(addr string, opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s := &Server{
		listener: ln,
		strs:     make(map[string]string),
		hashes:   make(map[string][][2]string),
		lists:    make(map[string][]string),
		sets:     make(map[string][]string),
		zsets:    make(map[string][]Member),
		ttls:     make(map[string]int64),
		stalled:  make(map[string]bool),
		conns:    make(map[net.Conn]struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listen address, e.g. "127.0.0.1:53211".
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// URL returns a redis:// URL for the server.
func (s *Server) URL() string {
	return "redis://" + s.Addr()
}

// Accepted returns how many connections were accepted so far.
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}

// ClosedByClient returns how many connections the client side closed.
func (s *Server) ClosedByClient() int64 {
	return s.closed.Load()
}

// Commands returns how many commands were received, connection setup included.
func (s *Server) Commands() int64 {
	return s.commands.Load()
}

// Close stops accepting, drops every connection and waits for handlers.
func (s *Server) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	s.listener.Close()
	s.connsMu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.connsMu.Unlock()
	s.wg.Wait()
}

func (s *Server) SetString(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strs[key] = value
}

// SetHash stores fields as alternating field, value pairs; order is kept.
func (s *Server) SetHash(key string, fieldValues ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pairs := make([][2]string, 0, len(fieldValues)/2)
	for i := 0; i+1 < len(fieldValues); i += 2 {
		pairs = append(pairs, [2]string{fieldValues[i], fieldValues[i+1]})
	}
	s.hashes[key] = pairs
}

func (s *Server) SetList(key string, elems ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append([]string(nil), elems...)
}

// SetSet stores members in the given order; replies keep that order.
func (s *Server) SetSet(key string, members ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[key] = append([]string(nil), members...)
}

func (s *Server) SetSortedSet(key string, members ...Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := append([]Member(nil), members...)
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score < ms[j].Score
		}
		return ms[i].Member < ms[j].Member
	})
	s.zsets[key] = ms
}

func (s *Server) SetTTL(key string, seconds int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttls[key] = seconds
}

// Stall makes the server never answer commands whose first argument is key.
func (s *Server) Stall(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stalled[key] = true
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)
		s.connsMu.Lock()
		s.conns[conn] = struct{}{}
		s.connsMu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		conn.Close()
	}()
	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)
	authed := s.password == ""
	for {
		cmd, args, err := readCommand(br)
		if err != nil {
			if err == io.EOF {
				s.closed.Add(1)
			}
			return
		}
		s.commands.Add(1)
		var result any
		switch {
		case cmd == "AUTH":
			result, authed = s.auth(args)
		case !authed:
			result = respError("NOAUTH Authentication required.")
		default:
			if s.isStalled(args) {
				// Never answer; keep reading so a client close is still seen.
				if err := bw.Flush(); err != nil {
					return
				}
				continue
			}
			result = s.exec(cmd, args)
		}
		if err := writeValue(bw, result); err != nil {
			return
		}
		// Replies to pipelined commands are flushed together.
		if br.Buffered() == 0 {
			if err := bw.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *Server) auth(args []string) (any, bool) {
	pass := ""
	switch len(args) {
	case 1:
		pass = args[0]
	case 2:
		pass = args[1]
	default:
		return respError("ERR wrong number of arguments for 'auth' command"), false
	}
	if s.password == "" || pass != s.password {
		return respError("WRONGPASS invalid username-password pair or user is disabled."), false
	}
	return status("OK"), true
}

func (s *Server) isStalled(args []string) bool {
	if len(args) == 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stalled[args[0]]
}

func wrongArgs(cmd string) respError {
	return respError(fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(cmd)))
}

const wrongType = respError("WRONGTYPE Operation against a key holding the wrong kind of value")

func (s *Server) exec(cmd string, args []string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch cmd {
	case "PING":
		if len(args) == 0 {
			return status("PONG")
		}
		return args[0]
	case "GET":
		if len(args) != 1 {
			return wrongArgs(cmd)
		}
		if s.holdsOther(args[0], "string") {
			return wrongType
		}
		return s.str(args[0])
	case "MGET":
		if len(args) == 0 {
			return wrongArgs(cmd)
		}
		out := make([]any, len(args))
		for i, k := range args {
			out[i] = s.str(k)
		}
		return out
	case "STRLEN":
		if len(args) != 1 {
			return wrongArgs(cmd)
		}
		return int64(len(s.strs[args[0]]))
	case "HGET":
		if len(args) != 2 {
			return wrongArgs(cmd)
		}
		return s.hashField(args[0], args[1])
	case "HMGET":
		if len(args) < 2 {
			return wrongArgs(cmd)
		}
		out := make([]any, len(args)-1)
		for i, f := range args[1:] {
			out[i] = s.hashField(args[0], f)
		}
		return out
	case "HGETALL":
		if len(args) != 1 {
			return wrongArgs(cmd)
		}
		if s.holdsOther(args[0], "hash") {
			return wrongType
		}
		out := []any{}
		for _, p := range s.hashes[args[0]] {
			out = append(out, p[0], p[1])
		}
		return out
	case "HLEN":
		if len(args) != 1 {
			return wrongArgs(cmd)
		}
		return int64(len(s.hashes[args[0]]))
	case "HEXISTS":
		if len(args) != 2 {
			return wrongArgs(cmd)
		}
		return boolInt(s.hashField(args[0], args[1]) != nil)
	case "LINDEX":
		if len(args) != 2 {
			return wrongArgs(cmd)
		}
		l := s.lists[args[0]]
		i, err := strconv.Atoi(args[1])
		if err != nil {
			return respError("ERR value is not an integer or out of range")
		}
		if i < 0 {
			i += len(l)
		}
		if i < 0 || i >= len(l) {
			return nil
		}
		return l[i]
	case "LRANGE":
		if len(args) != 3 {
			return wrongArgs(cmd)
		}
		if s.holdsOther(args[0], "list") {
			return wrongType
		}
		return s.indexRange(s.lists[args[0]], args[1], args[2])
	case "LLEN":
		if len(args) != 1 {
			return wrongArgs(cmd)
		}
		return int64(len(s.lists[args[0]]))
	case "SMEMBERS":
		if len(args) != 1 {
			return wrongArgs(cmd)
		}
		if s.holdsOther(args[0], "set") {
			return wrongType
		}
		return toAny(s.sets[args[0]])
	case "SCARD":
		if len(args) != 1 {
			return wrongArgs(cmd)
		}
		return int64(len(s.sets[args[0]]))
	case "SISMEMBER":
		if len(args) != 2 {
			return wrongArgs(cmd)
		}
		return boolInt(contains(s.sets[args[0]], args[1]))
	case "SINTER", "SUNION", "SDIFF":
		if len(args) == 0 {
			return wrongArgs(cmd)
		}
		return toAny(s.combine(cmd, args))
	case "ZRANGE", "ZREVRANGE":
		if len(args) < 3 {
			return wrongArgs(cmd)
		}
		ms := s.zsets[args[0]]
		if cmd == "ZREVRANGE" {
			ms = reversed(ms)
		}
		start, stop, ok := bounds(len(ms), args[1], args[2])
		if !ok {
			return respError("ERR value is not an integer or out of range")
		}
		return members(ms[start:stop], hasWithScores(args[3:]))
	case "ZRANGEBYSCORE", "ZREVRANGEBYSCORE":
		if len(args) < 3 {
			return wrongArgs(cmd)
		}
		ms := s.zsets[args[0]]
		lo, hi := args[1], args[2]
		if cmd == "ZREVRANGEBYSCORE" {
			ms = reversed(ms)
			lo, hi = hi, lo
		}
		minScore, err1 := parseScore(lo)
		maxScore, err2 := parseScore(hi)
		if err1 != nil || err2 != nil {
			return respError("ERR min or max is not a float")
		}
		var picked []Member
		for _, m := range ms {
			if m.Score >= minScore && m.Score <= maxScore {
				picked = append(picked, m)
			}
		}
		return members(picked, hasWithScores(args[3:]))
	case "ZCARD":
		if len(args) != 1 {
			return wrongArgs(cmd)
		}
		return int64(len(s.zsets[args[0]]))
	case "ZSCORE":
		if len(args) != 2 {
			return wrongArgs(cmd)
		}
		for _, m := range s.zsets[args[0]] {
			if m.Member == args[1] {
				return formatScore(m.Score)
			}
		}
		return nil
	case "ZRANK", "ZREVRANK":
		if len(args) != 2 {
			return wrongArgs(cmd)
		}
		ms := s.zsets[args[0]]
		if cmd == "ZREVRANK" {
			ms = reversed(ms)
		}
		for i, m := range ms {
			if m.Member == args[1] {
				return int64(i)
			}
		}
		return nil
	case "TTL":
		if len(args) != 1 {
			return wrongArgs(cmd)
		}
		if !s.exists(args[0]) {
			return int64(-2)
		}
		if ttl, ok := s.ttls[args[0]]; ok {
			return ttl
		}
		return int64(-1)
	case "EXISTS":
		if len(args) == 0 {
			return wrongArgs(cmd)
		}
		var n int64
		for _, k := range args {
			if s.exists(k) {
				n++
			}
		}
		return n
	default:
		return respError(fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(cmd)))
	}
}

func (s *Server) str(key string) any {
	if v, ok := s.strs[key]; ok {
		return v
	}
	return nil
}

func (s *Server) hashField(key, field string) any {
	for _, p := range s.hashes[key] {
		if p[0] == field {
			return p[1]
		}
	}
	return nil
}

func (s *Server) exists(key string) bool {
	return s.typeOf(key) != ""
}

// holdsOther reports whether key exists with a type other than want.
func (s *Server) holdsOther(key, want string) bool {
	typ := s.typeOf(key)
	return typ != "" && typ != want
}

func (s *Server) typeOf(key string) string {
	switch {
	case has(s.strs, key):
		return "string"
	case has(s.hashes, key):
		return "hash"
	case has(s.lists, key):
		return "list"
	case has(s.sets, key):
		return "set"
	case has(s.zsets, key):
		return "zset"
	}
	return ""
}

func has[V any](m map[string]V, key string) bool {
	_, ok := m[key]
	return ok
}

func (s *Server) combine(cmd string, keys []string) []string {
	out := append([]string(nil), s.sets[keys[0]]...)
	for _, k := range keys[1:] {
		other := s.sets[k]
		switch cmd {
		case "SINTER":
			out = filter(out, func(m string) bool { return contains(other, m) })
		case "SDIFF":
			out = filter(out, func(m string) bool { return !contains(other, m) })
		case "SUNION":
			for _, m := range other {
				if !contains(out, m) {
					out = append(out, m)
				}
			}
		}
	}
	return out
}

func (s *Server) indexRange(elems []string, startArg, stopArg string) any {
	start, stop, ok := bounds(len(elems), startArg, stopArg)
	if !ok {
		return respError("ERR value is not an integer or out of range")
	}
	return toAny(elems[start:stop])
}

// bounds converts inclusive, possibly negative, indexes into a slice range.
func bounds(n int, startArg, stopArg string) (int, int, bool) {
	start, err1 := strconv.Atoi(startArg)
	stop, err2 := strconv.Atoi(stopArg)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, true
	}
	return start, stop + 1, true
}

func members(ms []Member, withScores bool) []any {
	out := make([]any, 0, len(ms)*2)
	for _, m := range ms {
		out = append(out, m.Member)
		if withScores {
			out = append(out, formatScore(m.Score))
		}
	}
	return out
}

func hasWithScores(args []string) bool {
	for _, a := range args {
		if strings.EqualFold(a, "WITHSCORES") {
			return true
		}
	}
	return false
}

func parseScore(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "-inf":
		return math.Inf(-1), nil
	case "+inf", "inf":
		return math.Inf(1), nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func reversed(ms []Member) []Member {
	out := make([]Member, len(ms))
	for i, m := range ms {
		out[len(ms)-1-i] = m
	}
	return out
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func filter(ss []string, keep func(string) bool) []string {
	out := ss[:0]
	for _, s := range ss {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
