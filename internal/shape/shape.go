// Package shape turns raw store replies into rows of canonical fields.
//
// Every query kind has exactly one shaping rule. The rule table is indexed by
// kind and checked when the package loads, so a new kind cannot be added
// without deciding how its replies become rows.
package shape

import (
	"fmt"

	"github.com/kartikbazzad/bunbase/bunquery/internal/query"
	"github.com/kartikbazzad/bunbase/bunquery/internal/reply"
	"github.com/kartikbazzad/bunbase/bunquery/pkg/errors"
)

// Field is a canonical column name.
type Field string

const (
	FieldSeq    Field = "seq"
	FieldKey    Field = "key"
	FieldField  Field = "field"
	FieldValue  Field = "value"
	FieldMember Field = "member"
	FieldScore  Field = "score"
	FieldResult Field = "result"
)

// CanonicalFields is the fixed column priority used when merging rows.
var CanonicalFields = []Field{FieldSeq, FieldKey, FieldField, FieldValue, FieldMember, FieldScore, FieldResult}

// Row is one shaped record. A present field with a nil value is a null cell;
// an absent field is not part of the row's schema.
type Row map[Field]any

type rule func(cmd query.Command, r reply.Reply) ([]Row, error)

var rules = [query.KindCount]rule{
	query.KindGet:              keyValue,
	query.KindLIndex:           keyValue,
	query.KindMGet:             multiKey,
	query.KindHGet:             hashField,
	query.KindHMGet:            hashFields,
	query.KindHGetAll:          hashAll,
	query.KindLRange:           listRange,
	query.KindSMembers:         setMembers,
	query.KindSDiff:            setCombination,
	query.KindSInter:           setCombination,
	query.KindSUnion:           setCombination,
	query.KindZRange:           orderedRange,
	query.KindZRevRange:        orderedRange,
	query.KindZRangeByLex:      orderedRange,
	query.KindZRevRangeByLex:   orderedRange,
	query.KindZRangeByScore:    orderedRange,
	query.KindZRevRangeByScore: orderedRange,
	query.KindTTL:              scalar,
	query.KindPTTL:             scalar,
	query.KindExists:           scalar,
	query.KindStrLen:           scalar,
	query.KindHExists:          scalar,
	query.KindHLen:             scalar,
	query.KindLLen:             scalar,
	query.KindSCard:            scalar,
	query.KindSIsMember:        scalar,
	query.KindZCard:            scalar,
	query.KindZCount:           scalar,
	query.KindZLexCount:        scalar,
	query.KindZRank:            scalar,
	query.KindZRevRank:         scalar,
	query.KindZScore:           scalar,
}

func init() {
	for k, r := range rules {
		if r == nil {
			panic(fmt.Sprintf("shape: no rule for %s", query.Kind(k)))
		}
	}
}

// Shape converts the reply to cmd into rows.
func Shape(cmd query.Command, r reply.Reply) ([]Row, error) {
	if cmd.Kind < 0 || cmd.Kind >= query.KindCount {
		return nil, errors.Shape(cmd.Name(), "unsupported command kind %d", int(cmd.Kind))
	}
	if r == nil {
		r = reply.Nil{}
	}
	return rules[cmd.Kind](cmd, r)
}

// Stamp tags every row with the 1-based number of the command that produced it.
func Stamp(rows []Row, seq int) {
	for _, row := range rows {
		row[FieldSeq] = seq
	}
}

// Fields returns the fields present in row, in canonical order.
func (row Row) Fields() []Field {
	out := make([]Field, 0, len(row))
	for _, f := range CanonicalFields {
		if _, ok := row[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

func keyValue(cmd query.Command, r reply.Reply) ([]Row, error) {
	if err := needArgs(cmd, 1); err != nil {
		return nil, err
	}
	v, err := cell(cmd, r)
	if err != nil {
		return nil, err
	}
	return []Row{{FieldKey: cmd.Args[0], FieldValue: v}}, nil
}

func multiKey(cmd query.Command, r reply.Reply) ([]Row, error) {
	arr, err := array(cmd, r)
	if err != nil {
		return nil, err
	}
	if len(arr) != len(cmd.Args) {
		return nil, errors.Shape(cmd.Name(), "%d values for %d keys", len(arr), len(cmd.Args))
	}
	rows := make([]Row, 0, len(arr))
	for i, e := range arr {
		v, err := cell(cmd, e)
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{FieldKey: cmd.Args[i], FieldValue: v})
	}
	return rows, nil
}

func hashField(cmd query.Command, r reply.Reply) ([]Row, error) {
	if err := needArgs(cmd, 2); err != nil {
		return nil, err
	}
	v, err := cell(cmd, r)
	if err != nil {
		return nil, err
	}
	return []Row{{FieldKey: cmd.Args[0], FieldField: cmd.Args[1], FieldValue: v}}, nil
}

func hashFields(cmd query.Command, r reply.Reply) ([]Row, error) {
	if err := needArgs(cmd, 2); err != nil {
		return nil, err
	}
	arr, err := array(cmd, r)
	if err != nil {
		return nil, err
	}
	fields := cmd.Args[1:]
	if len(arr) != len(fields) {
		return nil, errors.Shape(cmd.Name(), "%d values for %d fields", len(arr), len(fields))
	}
	rows := make([]Row, 0, len(arr))
	for i, e := range arr {
		v, err := cell(cmd, e)
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{FieldKey: cmd.Args[0], FieldField: fields[i], FieldValue: v})
	}
	return rows, nil
}

func hashAll(cmd query.Command, r reply.Reply) ([]Row, error) {
	if err := needArgs(cmd, 1); err != nil {
		return nil, err
	}
	arr, err := array(cmd, r)
	if err != nil {
		return nil, err
	}
	if len(arr)%2 != 0 {
		return nil, errors.Shape(cmd.Name(), "odd number of elements (%d) in field/value reply", len(arr))
	}
	rows := make([]Row, 0, len(arr)/2)
	for i := 0; i < len(arr); i += 2 {
		f, err := cell(cmd, arr[i])
		if err != nil {
			return nil, err
		}
		v, err := cell(cmd, arr[i+1])
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{FieldKey: cmd.Args[0], FieldField: f, FieldValue: v})
	}
	return rows, nil
}

func listRange(cmd query.Command, r reply.Reply) ([]Row, error) {
	return eachElement(cmd, r, FieldValue, true)
}

func setMembers(cmd query.Command, r reply.Reply) ([]Row, error) {
	return eachElement(cmd, r, FieldMember, true)
}

// setCombination rows carry no key: several keys feed the result.
func setCombination(cmd query.Command, r reply.Reply) ([]Row, error) {
	return eachElement(cmd, r, FieldMember, false)
}

func orderedRange(cmd query.Command, r reply.Reply) ([]Row, error) {
	if !cmd.WithScores() {
		return eachElement(cmd, r, FieldMember, true)
	}
	if err := needArgs(cmd, 1); err != nil {
		return nil, err
	}
	arr, err := array(cmd, r)
	if err != nil {
		return nil, err
	}
	if len(arr)%2 != 0 {
		return nil, errors.Shape(cmd.Name(), "odd number of elements (%d) in member/score reply", len(arr))
	}
	rows := make([]Row, 0, len(arr)/2)
	for i := 0; i < len(arr); i += 2 {
		m, err := cell(cmd, arr[i])
		if err != nil {
			return nil, err
		}
		s, err := cell(cmd, arr[i+1])
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{FieldKey: cmd.Args[0], FieldMember: m, FieldScore: s})
	}
	return rows, nil
}

func scalar(cmd query.Command, r reply.Reply) ([]Row, error) {
	v, err := cell(cmd, r)
	if err != nil {
		return nil, err
	}
	return []Row{{FieldResult: v}}, nil
}

func eachElement(cmd query.Command, r reply.Reply, field Field, withKey bool) ([]Row, error) {
	if withKey {
		if err := needArgs(cmd, 1); err != nil {
			return nil, err
		}
	}
	arr, err := array(cmd, r)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(arr))
	for _, e := range arr {
		v, err := cell(cmd, e)
		if err != nil {
			return nil, err
		}
		row := Row{field: v}
		if withKey {
			row[FieldKey] = cmd.Args[0]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func needArgs(cmd query.Command, n int) error {
	if len(cmd.Args) < n {
		return errors.Shape(cmd.Name(), "need %d argument(s), have %d", n, len(cmd.Args))
	}
	return nil
}

func cell(cmd query.Command, r reply.Reply) (any, error) {
	v, ok := reply.Value(r)
	if !ok {
		return nil, errors.Shape(cmd.Name(), "expected a scalar, got %s", reply.TypeName(r))
	}
	return v, nil
}

// array accepts a nil reply as an empty array; some stores answer missing
// collections that way.
func array(cmd query.Command, r reply.Reply) (reply.Array, error) {
	switch x := r.(type) {
	case reply.Array:
		return x, nil
	case reply.Nil:
		return nil, nil
	default:
		return nil, errors.Shape(cmd.Name(), "expected an array, got %s", reply.TypeName(r))
	}
}
