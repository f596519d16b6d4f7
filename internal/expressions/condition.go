package expressions

import (
	"strconv"
	"strings"
)

// operators in precedence order: two-character operators first so ">=" is
// never mis-split as ">".
var operators = []string{">=", "<=", "!=", "==", ">", "<"}

// EvalCondition evaluates a single resolved binary comparison expression.
// The expression must already have {{...}} references substituted.
//
// The first matching operator splits the expression once; both sides are
// trimmed and parsed as numbers, falling back to string comparison (with
// surrounding quotes stripped) when either side is not numeric. An
// expression containing none of the operators evaluates to false.
func EvalCondition(expr string) bool {
	for _, op := range operators {
		idx := strings.Index(expr, op)
		if idx < 0 {
			continue
		}

		leftS := strings.TrimSpace(expr[:idx])
		rightS := strings.TrimSpace(expr[idx+len(op):])

		leftN, errL := strconv.ParseFloat(leftS, 64)
		rightN, errR := strconv.ParseFloat(rightS, 64)
		if errL == nil && errR == nil {
			return compareNumbers(op, leftN, rightN)
		}
		return compareStrings(op, trimQuotes(leftS), trimQuotes(rightS))
	}
	return false
}

func compareNumbers(op string, left, right float64) bool {
	switch op {
	case ">=":
		return left >= right
	case "<=":
		return left <= right
	case "!=":
		return left != right
	case "==":
		return left == right
	case ">":
		return left > right
	default:
		return left < right
	}
}

func compareStrings(op, left, right string) bool {
	switch op {
	case ">=":
		return left >= right
	case "<=":
		return left <= right
	case "!=":
		return left != right
	case "==":
		return left == right
	case ">":
		return left > right
	default:
		return left < right
	}
}

func trimQuotes(s string) string {
	return strings.Trim(s, `'"`)
}
