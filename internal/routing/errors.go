package routing

import "errors"

var (
	// ErrInvalidRule is returned when a routing rule is invalid
	ErrInvalidRule = errors.New("invalid routing rule")

	// ErrInvalidCondition is returned when a rule condition is invalid
	ErrInvalidCondition = errors.New("invalid rule condition")

	// ErrUnsupportedOperator is returned when an unsupported operator is used
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrUnknownField is returned when a condition names a field recordings do not have
	ErrUnknownField = errors.New("unknown recording field")

	// ErrRuleCompilationFailed is returned when an expression does not compile
	ErrRuleCompilationFailed = errors.New("rule compilation failed")

	// ErrUnknownDestination is returned when a rule points at an undeclared destination
	ErrUnknownDestination = errors.New("unknown destination")

	// ErrInvalidDestination is returned when a destination lacks a directory
	ErrInvalidDestination = errors.New("invalid destination")
)
