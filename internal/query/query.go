// Package query parses the line-oriented query language into store commands.
//
// Each non-blank line that does not start with '#' is one command: the command
// name followed by at least one argument, tokenized with shell quoting rules.
//
//	# hash fields and a sorted set slice
//	HMGET user:1 name "display name"
//	ZRANGE leaderboard 0 9 WITHSCORES
package query

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/kartikbazzad/bunbase/bunquery/pkg/errors"
)

const commentMarker = "#"

// Command is one parsed store command. Args never include the command name.
type Command struct {
	Kind Kind
	Args []string
}

// Name returns the store command name.
func (c Command) Name() string {
	return c.Kind.String()
}

// Argv returns the command as driver arguments: name first, then Args.
func (c Command) Argv() []any {
	argv := make([]any, 0, len(c.Args)+1)
	argv = append(argv, c.Name())
	for _, a := range c.Args {
		argv = append(argv, a)
	}
	return argv
}

// WithScores reports whether an ordered-range command asked for interleaved
// member/score replies. Every argument after the range bounds is scanned, so
// trailing LIMIT clauses may appear before or after the modifier.
func (c Command) WithScores() bool {
	if !c.Kind.AcceptsScores() {
		return false
	}
	for i := 3; i < len(c.Args); i++ {
		if strings.EqualFold(c.Args[i], "WITHSCORES") {
			return true
		}
	}
	return false
}

// String renders the command the way it would be typed.
func (c Command) String() string {
	return strings.TrimSpace(c.Name() + " " + strings.Join(c.Args, " "))
}

// Options are connection options passed through to the store dialer untouched
// (url, username, password, ...).
type Options map[string]string

// ParsedQuery is the result of parsing one target.
// Err is set when no command could be produced; Commands is then empty.
type ParsedQuery struct {
	Commands []Command
	Options  Options
	Err      error
}

// Target is one query of a batch request.
type Target struct {
	Text string `json:"target"`
	Type string `json:"type"`
}

// Parse turns query text into commands. Parsing stops at the first bad line and
// reports it by 1-based line number; no commands are returned in that case.
//
// substitutions is accepted for the template variables ($from, $to, ...) the
// caller knows about, but it is not applied to the text yet.
func Parse(text string, substitutions map[string]string, opts Options) ParsedQuery {
	pq := ParsedQuery{Options: opts}

	var cmds []Command
	for i, line := range strings.Split(text, "\n") {
		lineNo := i + 1
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, commentMarker) {
			continue
		}
		cmd, err := parseLine(lineNo, line)
		if err != nil {
			pq.Err = err
			return pq
		}
		cmds = append(cmds, cmd)
	}

	if len(cmds) == 0 {
		pq.Err = errors.Parse(0, "failed to parse query - no commands")
		return pq
	}
	pq.Commands = cmds
	return pq
}

// parseLine splits on whitespace and quotes only; a '#' inside a line is an
// ordinary character.
func parseLine(lineNo int, line string) (Command, error) {
	tokens, err := shellquote.Split(line)
	if err != nil {
		return Command{}, errors.Parse(lineNo, fmt.Sprintf("failed to parse query - line %d: %v", lineNo, err))
	}
	if len(tokens) < 2 {
		return Command{}, errors.Parse(lineNo, fmt.Sprintf("failed to parse query - line %d: query must have command and arguments", lineNo))
	}
	name := strings.ToUpper(tokens[0])
	kind, ok := LookupKind(name)
	if !ok {
		return Command{}, errors.Parse(lineNo, fmt.Sprintf("failed to parse query - line %d: unknown command %s", lineNo, name))
	}
	return Command{Kind: kind, Args: tokens[1:]}, nil
}
