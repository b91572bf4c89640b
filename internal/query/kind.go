package query

import "strings"

// Kind is a read-only store command the engine knows how to run and shape.
// The set is closed: anything else is rejected at parse time.
type Kind int

const (
	KindGet Kind = iota
	KindMGet
	KindHGet
	KindHMGet
	KindHGetAll
	KindLIndex
	KindLRange
	KindSMembers
	KindSDiff
	KindSInter
	KindSUnion
	KindZRange
	KindZRevRange
	KindZRangeByLex
	KindZRevRangeByLex
	KindZRangeByScore
	KindZRevRangeByScore
	KindTTL
	KindPTTL
	KindExists
	KindStrLen
	KindHExists
	KindHLen
	KindLLen
	KindSCard
	KindSIsMember
	KindZCard
	KindZCount
	KindZLexCount
	KindZRank
	KindZRevRank
	KindZScore

	// KindCount is the number of kinds; tables indexed by Kind use it as their length.
	KindCount
)

var kindNames = [KindCount]string{
	KindGet:              "GET",
	KindMGet:             "MGET",
	KindHGet:             "HGET",
	KindHMGet:            "HMGET",
	KindHGetAll:          "HGETALL",
	KindLIndex:           "LINDEX",
	KindLRange:           "LRANGE",
	KindSMembers:         "SMEMBERS",
	KindSDiff:            "SDIFF",
	KindSInter:           "SINTER",
	KindSUnion:           "SUNION",
	KindZRange:           "ZRANGE",
	KindZRevRange:        "ZREVRANGE",
	KindZRangeByLex:      "ZRANGEBYLEX",
	KindZRevRangeByLex:   "ZREVRANGEBYLEX",
	KindZRangeByScore:    "ZRANGEBYSCORE",
	KindZRevRangeByScore: "ZREVRANGEBYSCORE",
	KindTTL:              "TTL",
	KindPTTL:             "PTTL",
	KindExists:           "EXISTS",
	KindStrLen:           "STRLEN",
	KindHExists:          "HEXISTS",
	KindHLen:             "HLEN",
	KindLLen:             "LLEN",
	KindSCard:            "SCARD",
	KindSIsMember:        "SISMEMBER",
	KindZCard:            "ZCARD",
	KindZCount:           "ZCOUNT",
	KindZLexCount:        "ZLEXCOUNT",
	KindZRank:            "ZRANK",
	KindZRevRank:         "ZREVRANK",
	KindZScore:           "ZSCORE",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = Kind(k)
	}
	return m
}()

// String returns the store command name, e.g. "ZRANGE".
func (k Kind) String() string {
	if k < 0 || k >= KindCount {
		return "UNKNOWN"
	}
	return kindNames[k]
}

// LookupKind resolves a command name case-insensitively.
func LookupKind(name string) (Kind, bool) {
	k, ok := kindsByName[strings.ToUpper(name)]
	return k, ok
}

// Kinds returns every supported kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, KindCount)
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// IsOrderedRange reports whether k reads a range of a sorted set.
func (k Kind) IsOrderedRange() bool {
	switch k {
	case KindZRange, KindZRevRange, KindZRangeByLex, KindZRevRangeByLex,
		KindZRangeByScore, KindZRevRangeByScore:
		return true
	}
	return false
}

// AcceptsScores reports whether k supports the WITHSCORES modifier. The lex
// variants do not.
func (k Kind) AcceptsScores() bool {
	return k.IsOrderedRange() && k != KindZRangeByLex && k != KindZRevRangeByLex
}
