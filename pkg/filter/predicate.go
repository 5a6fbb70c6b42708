// Package filter implements the predicate-tree evaluator (C11): a
// boolean interpreter over a single metadata record, used both as the
// fallback path for fields the metadata index has evicted or cannot
// accelerate (regex), and as the source of truth the planner's
// index-accelerated paths are checked against (spec §4.11).
package filter

import (
	"regexp"
	"strings"

	"github.com/vexgraph/vexgraph/pkg/model"
)

// Op names a leaf comparison operator.
type Op string

const (
	OpEquals   Op = "eq"
	OpIn       Op = "in"
	OpNotIn    Op = "not_in"
	OpGT       Op = "gt"
	OpGTE      Op = "gte"
	OpLT       Op = "lt"
	OpLTE      Op = "lte"
	OpContains Op = "contains"
	OpRegex    Op = "regex"
)

// Predicate is one node of the predicate tree: either a leaf comparison
// on Field, or a logical composition of Children. Construct trees with
// the Eq/In/Gt/... and And/Or/Not helpers rather than populating fields
// directly.
type Predicate struct {
	// Leaf fields.
	Field  string
	Op     Op
	Value  any   // used by eq, gt/gte/lt/lte, contains, regex
	Values []any // used by in/not_in

	// Logical composition. Exactly one of Op or Logic is set.
	Logic    logicOp
	Children []Predicate
}

type logicOp string

const (
	logicNone logicOp = ""
	logicAnd  logicOp = "and"
	logicOr   logicOp = "or"
	logicNot  logicOp = "not"
)

func Eq(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpEquals, Value: value}
}

func In(field string, values []any) Predicate {
	return Predicate{Field: field, Op: OpIn, Values: values}
}

func NotIn(field string, values []any) Predicate {
	return Predicate{Field: field, Op: OpNotIn, Values: values}
}

func Gt(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpGT, Value: value}
}

func Gte(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpGTE, Value: value}
}

func Lt(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpLT, Value: value}
}

func Lte(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpLTE, Value: value}
}

func Contains(field string, value any) Predicate {
	return Predicate{Field: field, Op: OpContains, Value: value}
}

func Regex(field, pattern string) Predicate {
	return Predicate{Field: field, Op: OpRegex, Value: pattern}
}

func And(children ...Predicate) Predicate { return Predicate{Logic: logicAnd, Children: children} }
func Or(children ...Predicate) Predicate  { return Predicate{Logic: logicOr, Children: children} }
func Not(child Predicate) Predicate       { return Predicate{Logic: logicNot, Children: []Predicate{child}} }

// IsLogic reports whether p is a logical composition rather than a leaf.
func (p Predicate) IsLogic() bool { return p.Logic != logicNone }

// Evaluate interprets p against md, a single noun or verb's metadata.
// Missing fields compare as "not equal" rather than raising an error
// (spec §4.11).
func Evaluate(p Predicate, md model.Metadata) bool {
	if p.IsLogic() {
		switch p.Logic {
		case logicAnd:
			for _, c := range p.Children {
				if !Evaluate(c, md) {
					return false
				}
			}
			return true
		case logicOr:
			for _, c := range p.Children {
				if Evaluate(c, md) {
					return true
				}
			}
			return false
		case logicNot:
			return !Evaluate(p.Children[0], md)
		default:
			return false
		}
	}
	return evaluateLeaf(p, md)
}

func evaluateLeaf(p Predicate, md model.Metadata) bool {
	fieldValue, found := lookupPath(md, p.Field)
	switch p.Op {
	case OpEquals:
		return found && valuesEqual(fieldValue, p.Value)
	case OpIn:
		if !found {
			return false
		}
		for _, v := range p.Values {
			if valuesEqual(fieldValue, v) {
				return true
			}
		}
		return false
	case OpNotIn:
		if !found {
			return true
		}
		for _, v := range p.Values {
			if valuesEqual(fieldValue, v) {
				return false
			}
		}
		return true
	case OpGT, OpGTE, OpLT, OpLTE:
		if !found {
			return false
		}
		return compare(fieldValue, p.Value, p.Op)
	case OpContains:
		if !found {
			return false
		}
		arr, ok := fieldValue.([]any)
		if !ok {
			return false
		}
		for _, elem := range arr {
			if valuesEqual(elem, p.Value) {
				return true
			}
		}
		return false
	case OpRegex:
		if !found {
			return false
		}
		s, ok := fieldValue.(string)
		if !ok {
			return false
		}
		pattern, ok := p.Value.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	default:
		return false
	}
}

// lookupPath traverses md along field's dot-separated segments.
func lookupPath(md model.Metadata, field string) (any, bool) {
	if md == nil {
		return nil, false
	}
	segments := strings.Split(field, ".")
	var current any = map[string]any(md)
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}

func valuesEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.EqualFold(as, bs)
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return ab == bb
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// compare evaluates a gt/gte/lt/lte leaf, trying numeric comparison first
// and falling back to lexicographic string comparison.
func compare(fieldValue, target any, op Op) bool {
	if af, aok := toFloat(fieldValue); aok {
		if bf, bok := toFloat(target); bok {
			return numericCompare(af, bf, op)
		}
	}
	as, aok := fieldValue.(string)
	bs, bok := target.(string)
	if aok && bok {
		return stringCompare(as, bs, op)
	}
	return false
}

func numericCompare(a, b float64, op Op) bool {
	switch op {
	case OpGT:
		return a > b
	case OpGTE:
		return a >= b
	case OpLT:
		return a < b
	case OpLTE:
		return a <= b
	default:
		return false
	}
}

func stringCompare(a, b string, op Op) bool {
	switch op {
	case OpGT:
		return a > b
	case OpGTE:
		return a >= b
	case OpLT:
		return a < b
	case OpLTE:
		return a <= b
	default:
		return false
	}
}
