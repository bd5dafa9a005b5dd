package routing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"recording-relay/internal/models"
)

// File is the on-disk rules format:
//
//	destinations:
//	  site1: {dir: /var/spool/recordings/site1, relay: "sftp://rcs@host:22/incoming/site1"}
//	rules:
//	  - name: site1
//	    when: 'owner_extension startsWith "41"'
//	    destination: site1
//	  - name: site2
//	    conditions: [{field: owner_extension, operator: in, value: "5100,5101"}]
//	    destination: site2
//
// A rule with neither when nor conditions matches everything.
type File struct {
	Destinations map[string]models.Destination `yaml:"destinations"`
	Rules        []RuleSpec                    `yaml:"rules"`
}

// RuleSpec is one rule as written in the rules file
type RuleSpec struct {
	Name        string      `yaml:"name"`
	When        string      `yaml:"when"`
	Conditions  []Condition `yaml:"conditions"`
	Destination string      `yaml:"destination"`
}

// LoadRules reads and compiles the rules file at path
func LoadRules(path string) (*Router, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules compiles a rules document
func ParseRules(data []byte) (*Router, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	return file.Compile()
}

// Compile resolves destinations and builds predicates in file order
func (f *File) Compile() (*Router, error) {
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("%w: no rules defined", ErrInvalidRule)
	}

	for name, dest := range f.Destinations {
		if dest.Dir == "" {
			return nil, fmt.Errorf("%w: %q has no dir", ErrInvalidDestination, name)
		}
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i, spec := range f.Rules {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}

		dest, ok := f.Destinations[spec.Destination]
		if !ok {
			return nil, fmt.Errorf("rule %q: %w: %q", name, ErrUnknownDestination, spec.Destination)
		}
		dest.Name = spec.Destination

		predicate, err := spec.predicate()
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", name, err)
		}

		rules = append(rules, Rule{Name: name, Predicate: predicate, Destination: dest})
	}

	return NewRouter(rules)
}

func (s RuleSpec) predicate() (Predicate, error) {
	switch {
	case s.When != "" && len(s.Conditions) > 0:
		return nil, fmt.Errorf("%w: use either when or conditions", ErrInvalidRule)
	case s.When != "":
		return NewExprPredicate(s.When)
	case len(s.Conditions) > 0:
		return NewConditionPredicate(s.Conditions)
	default:
		return MatchAll{}, nil
	}
}
