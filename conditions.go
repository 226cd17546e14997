package automation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// Condition is a single predicate evaluated against the execution context.
type Condition struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// Supported condition operators.
const (
	OperatorEquals      = "equals"
	OperatorNotEquals   = "not_equals"
	OperatorGreaterThan = "greater_than"
	OperatorLessThan    = "less_than"
	OperatorContains    = "contains"
	OperatorNotContains = "not_contains"
	OperatorIsEmpty     = "is_empty"
	OperatorIsNotEmpty  = "is_not_empty"
	OperatorIn          = "in"
	OperatorNotIn       = "not_in"
)

// EvaluateConditions reports whether every condition holds against the given
// context. An empty condition list holds trivially. Evaluation is pure: the
// context is never modified.
func EvaluateConditions(conditions []Condition, context map[string]any) bool {
	for _, condition := range conditions {
		if !evaluateCondition(condition, context) {
			return false
		}
	}
	return true
}

// evaluateCondition evaluates one predicate. A missing field fails the
// condition regardless of operator, and unknown operators fail closed.
func evaluateCondition(condition Condition, context map[string]any) bool {
	fieldValue, ok := lookupField(context, condition.Field)
	if !ok {
		return false
	}

	switch condition.Operator {
	case OperatorEquals:
		return valuesEqual(fieldValue, condition.Value)
	case OperatorNotEquals:
		return !valuesEqual(fieldValue, condition.Value)
	case OperatorGreaterThan:
		a, aok := toFloat(fieldValue)
		b, bok := toFloat(condition.Value)
		return aok && bok && a > b
	case OperatorLessThan:
		a, aok := toFloat(fieldValue)
		b, bok := toFloat(condition.Value)
		return aok && bok && a < b
	case OperatorContains:
		return containsValue(fieldValue, condition.Value)
	case OperatorNotContains:
		return !containsValue(fieldValue, condition.Value)
	case OperatorIsEmpty:
		return isEmptyValue(fieldValue)
	case OperatorIsNotEmpty:
		return !isEmptyValue(fieldValue)
	case OperatorIn:
		return inCollection(fieldValue, condition.Value)
	case OperatorNotIn:
		return !inCollection(fieldValue, condition.Value)
	default:
		return false
	}
}

// lookupField resolves a field from the context, supporting dotted paths
// into nested maps (e.g. "payload.user.role").
func lookupField(context map[string]any, field string) (any, bool) {
	if field == "" {
		return nil, false
	}
	if value, ok := context[field]; ok {
		return value, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}
	container := gabs.Wrap(map[string]any(context))
	if nested := container.Path(field); nested != nil {
		return nested.Data(), true
	}
	return nil, false
}

func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return stringify(a) == stringify(b)
}

func containsValue(field, value any) bool {
	switch fv := field.(type) {
	case []any:
		for _, item := range fv {
			if valuesEqual(item, value) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range fv {
			if valuesEqual(item, value) {
				return true
			}
		}
		return false
	default:
		return strings.Contains(stringify(field), stringify(value))
	}
}

func inCollection(field, value any) bool {
	switch collection := value.(type) {
	case []any:
		for _, item := range collection {
			if valuesEqual(field, item) {
				return true
			}
		}
	case []string:
		for _, item := range collection {
			if valuesEqual(field, item) {
				return true
			}
		}
	}
	return false
}

func isEmptyValue(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case string:
		return value == ""
	case bool:
		return !value
	case []any:
		return len(value) == 0
	case []string:
		return len(value) == 0
	case map[string]any:
		return len(value) == 0
	default:
		if f, ok := toFloat(v); ok {
			return f == 0
		}
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case int:
		return float64(value), true
	case int32:
		return float64(value), true
	case int64:
		return float64(value), true
	case uint:
		return float64(value), true
	case float32:
		return float64(value), true
	case float64:
		return value, true
	case string:
		f, err := strconv.ParseFloat(value, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", value)
	}
}
