package routing

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"recording-relay/internal/models"
)

// Predicate decides whether a recording belongs to a rule. Implementations are
// pure and safe for concurrent use.
type Predicate interface {
	Evaluate(item models.Recording) bool
}

// MatchAll accepts every recording. Use it for a catch-all rule at the end of the list.
type MatchAll struct{}

func (MatchAll) Evaluate(models.Recording) bool { return true }

// ExprPredicate evaluates a boolean expr-lang expression against the recording fields
// (id, caller, callee, timestamp, owner_extension, download_url).
type ExprPredicate struct {
	source  string
	program *vm.Program
}

// exprEnv types every recording field as a string for the compiler
func exprEnv() map[string]interface{} {
	env := make(map[string]interface{})
	for key := range (models.Recording{}).Fields() {
		env[key] = ""
	}
	return env
}

// NewExprPredicate compiles the expression once. It must produce a bool.
func NewExprPredicate(source string) (*ExprPredicate, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrRuleCompilationFailed)
	}

	program, err := expr.Compile(source,
		expr.Env(exprEnv()),
		expr.AsBool(),
		expr.DisableBuiltin("now"),
		expr.DisableBuiltin("date"),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuleCompilationFailed, err)
	}

	return &ExprPredicate{source: source, program: program}, nil
}

// Evaluate runs the compiled program. A runtime error counts as no match.
func (p *ExprPredicate) Evaluate(item models.Recording) bool {
	env := make(map[string]interface{}, 6)
	for key, value := range item.Fields() {
		env[key] = value
	}

	out, err := expr.Run(p.program, env)
	if err != nil {
		return false
	}
	matched, ok := out.(bool)
	return ok && matched
}

func (p *ExprPredicate) String() string {
	return p.source
}

// Condition is one typed field test
type Condition struct {
	Field    string      `yaml:"field"`
	Operator string      `yaml:"operator"`
	Value    interface{} `yaml:"value"`
	Negate   bool        `yaml:"negate"`
}

// compiledCondition contains pre-processed condition data
type compiledCondition struct {
	Condition
	text  string
	regex *regexp.Regexp
	list  []string
}

// ConditionPredicate ANDs a list of conditions. An empty list matches everything.
type ConditionPredicate struct {
	conditions []compiledCondition
}

// SupportedOperators lists the condition operators
func SupportedOperators() []string {
	return []string{"eq", "ne", "contains", "starts_with", "ends_with", "regex", "in", "exists"}
}

// NewConditionPredicate validates and pre-compiles the conditions
func NewConditionPredicate(conditions []Condition) (*ConditionPredicate, error) {
	fields := (models.Recording{}).Fields()
	compiled := make([]compiledCondition, 0, len(conditions))

	for i, c := range conditions {
		if _, ok := fields[c.Field]; !ok {
			return nil, fmt.Errorf("condition %d: %w: %q", i, ErrUnknownField, c.Field)
		}
		if !slices.Contains(SupportedOperators(), c.Operator) {
			return nil, fmt.Errorf("condition %d: %w: %q", i, ErrUnsupportedOperator, c.Operator)
		}

		cc := compiledCondition{Condition: c}
		if c.Value != nil {
			cc.text = fmt.Sprintf("%v", c.Value)
		}

		switch c.Operator {
		case "regex":
			re, err := regexp.Compile(cc.text)
			if err != nil {
				return nil, fmt.Errorf("condition %d: %w: invalid regex pattern: %v", i, ErrInvalidCondition, err)
			}
			cc.regex = re
		case "in":
			list, err := toList(c.Value)
			if err != nil {
				return nil, fmt.Errorf("condition %d: %w: %v", i, ErrInvalidCondition, err)
			}
			cc.list = list
		case "exists":
		default:
			if c.Value == nil {
				return nil, fmt.Errorf("condition %d: %w: operator %q requires a value", i, ErrInvalidCondition, c.Operator)
			}
		}

		compiled = append(compiled, cc)
	}

	return &ConditionPredicate{conditions: compiled}, nil
}

func toList(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case []interface{}:
		list := make([]string, len(v))
		for i, item := range v {
			list[i] = fmt.Sprintf("%v", item)
		}
		return list, nil
	case []string:
		return v, nil
	case string:
		list := strings.Split(v, ",")
		for i, item := range list {
			list[i] = strings.TrimSpace(item)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("'in' operator requires a list or comma-separated string")
	}
}

// Evaluate applies every condition to item
func (p *ConditionPredicate) Evaluate(item models.Recording) bool {
	fields := item.Fields()
	for _, c := range p.conditions {
		result := c.evaluate(fields[c.Field])
		if c.Negate {
			result = !result
		}
		if !result {
			return false
		}
	}
	return true
}

func (c *compiledCondition) evaluate(value string) bool {
	switch c.Operator {
	case "exists":
		return value != ""
	case "eq":
		return value == c.text
	case "ne":
		return value != c.text
	case "contains":
		return strings.Contains(value, c.text)
	case "starts_with":
		return strings.HasPrefix(value, c.text)
	case "ends_with":
		return strings.HasSuffix(value, c.text)
	case "regex":
		return c.regex.MatchString(value)
	case "in":
		return slices.Contains(c.list, value)
	default:
		return false
	}
}
