package routing

import (
	"fmt"
	"sort"

	"recording-relay/internal/models"
)

// Rule maps recordings accepted by Predicate to Destination
type Rule struct {
	Name        string
	Predicate   Predicate
	Destination models.Destination
}

// Router holds an ordered, immutable rule list. The first matching rule wins.
type Router struct {
	rules []Rule
}

// NewRouter copies rules and checks each one is complete
func NewRouter(rules []Rule) (*Router, error) {
	copied := make([]Rule, len(rules))
	for i, rule := range rules {
		if rule.Predicate == nil {
			return nil, fmt.Errorf("%w: rule %d (%s) has no predicate", ErrInvalidRule, i, rule.Name)
		}
		if rule.Destination.Dir == "" {
			return nil, fmt.Errorf("%w: rule %d (%s) has no destination directory", ErrInvalidRule, i, rule.Name)
		}
		copied[i] = rule
	}
	return &Router{rules: copied}, nil
}

// Route returns the destination of the first rule whose predicate accepts item.
// The second result is false when no rule matches and the item should be dropped.
func (r *Router) Route(item models.Recording) (models.Destination, bool) {
	for _, rule := range r.rules {
		if rule.Predicate.Evaluate(item) {
			return rule.Destination, true
		}
	}
	return models.Destination{}, false
}

// Rules returns the rule names in evaluation order
func (r *Router) Rules() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}

// Destinations returns every distinct destination referenced by a rule, sorted by name
func (r *Router) Destinations() []models.Destination {
	seen := make(map[string]models.Destination)
	for _, rule := range r.rules {
		seen[rule.Destination.Name] = rule.Destination
	}

	dests := make([]models.Destination, 0, len(seen))
	for _, d := range seen {
		dests = append(dests, d)
	}
	sort.Slice(dests, func(i, j int) bool { return dests[i].Name < dests[j].Name })
	return dests
}
