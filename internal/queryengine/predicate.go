package queryengine

import (
	"fmt"
	"strings"

	"github.com/stratumlake/stratum/internal/query/parser"
)

// evalPredicate evaluates a WHERE expression against one decoded row.
// It supports comparison operators, AND/OR/NOT, IS [NOT] NULL, LIKE, and
// BETWEEN -- the forms the parser accepts for scalar columns.
func evalPredicate(expr parser.Expression, row map[string]interface{}) (bool, error) {
	v, err := evalExpr(expr, row)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("queryengine: WHERE clause did not evaluate to a boolean")
	}
	return b, nil
}

func evalExpr(expr parser.Expression, row map[string]interface{}) (interface{}, error) {
	switch e := expr.(type) {
	case *parser.BinaryExpr:
		return evalBinary(e, row)
	case *parser.UnaryExpr:
		return evalUnary(e, row)
	case *parser.ParenExpr:
		return evalExpr(e.Expr, row)
	case *parser.ColumnRef:
		return row[e.Column], nil
	case *parser.Literal:
		return e.Value, nil
	case *parser.IsNullExpr:
		v, err := evalExpr(e.Expr, row)
		if err != nil {
			return nil, err
		}
		isNull := v == nil
		if e.Not {
			return !isNull, nil
		}
		return isNull, nil
	case *parser.LikeExpr:
		return evalLike(e, row)
	case *parser.BetweenExpr:
		return evalBetween(e, row)
	case *parser.InExpr:
		return evalIn(e, row)
	default:
		return nil, fmt.Errorf("queryengine: unsupported expression %T in WHERE clause", expr)
	}
}

func evalBinary(e *parser.BinaryExpr, row map[string]interface{}) (interface{}, error) {
	switch strings.ToUpper(e.Operator) {
	case "AND":
		l, err := evalExpr(e.Left, row)
		if err != nil {
			return nil, err
		}
		if lb, _ := l.(bool); !lb {
			return false, nil
		}
		r, err := evalExpr(e.Right, row)
		if err != nil {
			return nil, err
		}
		rb, _ := r.(bool)
		return rb, nil
	case "OR":
		l, err := evalExpr(e.Left, row)
		if err != nil {
			return nil, err
		}
		if lb, _ := l.(bool); lb {
			return true, nil
		}
		r, err := evalExpr(e.Right, row)
		if err != nil {
			return nil, err
		}
		rb, _ := r.(bool)
		return rb, nil
	}

	left, err := evalExpr(e.Left, row)
	if err != nil {
		return nil, err
	}
	right, err := evalExpr(e.Right, row)
	if err != nil {
		return nil, err
	}
	return compare(e.Operator, left, right)
}

func evalUnary(e *parser.UnaryExpr, row map[string]interface{}) (interface{}, error) {
	v, err := evalExpr(e.Operand, row)
	if err != nil {
		return nil, err
	}
	switch strings.ToUpper(e.Operator) {
	case "NOT":
		b, _ := v.(bool)
		return !b, nil
	case "-":
		return negate(v), nil
	default:
		return nil, fmt.Errorf("queryengine: unsupported unary operator %q", e.Operator)
	}
}

func negate(v interface{}) interface{} {
	switch n := v.(type) {
	case int64:
		return -n
	case float64:
		return -n
	default:
		return v
	}
}

func compare(op string, left, right interface{}) (interface{}, error) {
	switch op {
	case "=", "==":
		return valuesEqual(left, right), nil
	case "!=", "<>":
		return !valuesEqual(left, right), nil
	}

	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if lok && rok {
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}

	return nil, fmt.Errorf("queryengine: cannot compare %v %s %v", left, op, right)
}

func valuesEqual(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	return a == b
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func evalLike(e *parser.LikeExpr, row map[string]interface{}) (interface{}, error) {
	v, err := evalExpr(e.Expr, row)
	if err != nil {
		return nil, err
	}
	p, err := evalExpr(e.Pattern, row)
	if err != nil {
		return nil, err
	}
	s, _ := v.(string)
	pattern, _ := p.(string)
	matched := likeMatch(s, pattern)
	if e.Not {
		return !matched, nil
	}
	return matched, nil
}

// likeMatch implements SQL LIKE's % and _ wildcards with a simple
// backtracking matcher; sufficient for the single-wildcard patterns the
// seed queries use.
func likeMatch(s, pattern string) bool {
	sr, pr := []rune(s), []rune(pattern)
	return likeMatchRunes(sr, pr)
}

func likeMatchRunes(s, p []rune) bool {
	if len(p) == 0 {
		return len(s) == 0
	}
	switch p[0] {
	case '%':
		for i := 0; i <= len(s); i++ {
			if likeMatchRunes(s[i:], p[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	default:
		if len(s) == 0 || s[0] != p[0] {
			return false
		}
		return likeMatchRunes(s[1:], p[1:])
	}
}

func evalBetween(e *parser.BetweenExpr, row map[string]interface{}) (interface{}, error) {
	v, err := evalExpr(e.Expr, row)
	if err != nil {
		return nil, err
	}
	lo, err := evalExpr(e.Low, row)
	if err != nil {
		return nil, err
	}
	hi, err := evalExpr(e.High, row)
	if err != nil {
		return nil, err
	}
	geLo, err := compare(">=", v, lo)
	if err != nil {
		return nil, err
	}
	leHi, err := compare("<=", v, hi)
	if err != nil {
		return nil, err
	}
	result := geLo.(bool) && leHi.(bool)
	if e.Not {
		return !result, nil
	}
	return result, nil
}

func evalIn(e *parser.InExpr, row map[string]interface{}) (interface{}, error) {
	v, err := evalExpr(e.Expr, row)
	if err != nil {
		return nil, err
	}
	found := false
	for _, candidate := range e.Values {
		cv, err := evalExpr(candidate, row)
		if err != nil {
			return nil, err
		}
		if valuesEqual(v, cv) {
			found = true
			break
		}
	}
	if e.Not {
		return !found, nil
	}
	return found, nil
}
