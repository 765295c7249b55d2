package rules

import "strings"

// Evaluate folds conditions left to right against data.
//
// The first condition seeds the result; every later condition combines with
// the running result using its own LogicalOperator (OR, otherwise AND). There
// is no precedence or grouping: [A, OR B, AND C] means (A || B) && C.
// An empty list evaluates to true.
func Evaluate(conditions []Condition, data map[string]any) bool {
	if len(conditions) == 0 {
		return true
	}

	result := EvaluateCondition(conditions[0], data)
	for _, c := range conditions[1:] {
		if c.LogicalOperator == LogicalOr {
			result = result || EvaluateCondition(c, data)
		} else {
			result = result && EvaluateCondition(c, data)
		}
	}
	return result
}

// EvaluateCondition applies a single condition. Unknown operators evaluate
// to false.
func EvaluateCondition(c Condition, data map[string]any) bool {
	actual, found := Lookup(data, c.Field)
	if !found {
		actual = nil
	}
	expected := ValueOf(c.Value)

	switch c.Operator {
	case OpEquals:
		return found && Equal(actual, expected)

	case OpNotEquals:
		return !found || !Equal(actual, expected)

	case OpContains:
		return found && strings.Contains(Text(actual), Text(expected))

	case OpNotContains:
		return !found || !strings.Contains(Text(actual), Text(expected))

	case OpGreaterThan:
		a, b, ok := numericPair(actual, expected, found)
		return ok && a > b

	case OpLessThan:
		a, b, ok := numericPair(actual, expected, found)
		return ok && a < b

	case OpIsEmpty:
		return isEmpty(actual, found)

	case OpIsNotEmpty:
		return !isEmpty(actual, found)

	case OpIn:
		set, ok := expected.(List)
		return ok && found && member(set, actual)

	case OpNotIn:
		set, ok := expected.(List)
		return ok && (!found || !member(set, actual))
	}

	return false
}

// KnownOperator reports whether op is one the evaluator understands
func KnownOperator(op Operator) bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpNotContains, OpGreaterThan,
		OpLessThan, OpIsEmpty, OpIsNotEmpty, OpIn, OpNotIn:
		return true
	}
	return false
}

func numericPair(actual, expected Value, found bool) (float64, float64, bool) {
	if !found {
		return 0, 0, false
	}
	a, ok := Numeric(actual)
	if !ok {
		return 0, 0, false
	}
	b, ok := Numeric(expected)
	if !ok {
		return 0, 0, false
	}
	return a, b, true
}

func isEmpty(v Value, found bool) bool {
	if !found {
		return true
	}
	switch x := v.(type) {
	case Null:
		return true
	case String:
		return x == ""
	}
	return false
}

func member(set List, v Value) bool {
	for _, e := range set {
		if Equal(e, v) {
			return true
		}
	}
	return false
}
