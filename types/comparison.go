package types

import (
	"fmt"
)

type Comparison int

const (
	UndefinedComparison = Comparison(iota)
	ComparisonEqual
	ComparisonBigger
	ComparisonSmaller
	ComparisonEqualOrBigger
	ComparisonEqualOrSmaller
	ComparisonEqualEither
	EndOfComparison
)

func (c Comparison) String() string {
	switch c {
	case UndefinedComparison:
		return "<undefined>"
	case ComparisonEqual:
		return "=="
	case ComparisonBigger:
		return ">"
	case ComparisonSmaller:
		return "<"
	case ComparisonEqualOrBigger:
		return ">="
	case ComparisonEqualOrSmaller:
		return "<="
	case ComparisonEqualEither:
		return "==|=="
	default:
		return fmt.Sprintf("<unexpected_%d>", int(c))
	}
}

// Match applies the comparison to a state. The second target is used only
// by ComparisonEqualEither.
func (c Comparison) Match(
	state CoreContextState,
	target CoreContextState,
	target2 CoreContextState,
) bool {
	switch c {
	case ComparisonEqual:
		return state == target
	case ComparisonBigger:
		return state > target
	case ComparisonSmaller:
		return state < target
	case ComparisonEqualOrBigger:
		return state >= target
	case ComparisonEqualOrSmaller:
		return state <= target
	case ComparisonEqualEither:
		return state == target || state == target2
	default:
		return false
	}
}
