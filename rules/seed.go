package rules

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk shape of a seed file
type ruleFile struct {
	Rules []*Rule `yaml:"rules"`
}

// LoadRulesYAML decodes rule definitions from a YAML document of the form
//
//	rules:
//	  - name: Notify on urgent task
//	    active: true
//	    trigger: {type: task_created, entity: task}
//	    actions: [...]
//
// IDs in the document are ignored when the rules are created.
func LoadRulesYAML(r io.Reader) ([]*Rule, error) {
	var file ruleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	return file.Rules, nil
}

// LoadRulesFile reads a YAML seed file from disk
func LoadRulesFile(path string) ([]*Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()
	return LoadRulesYAML(f)
}

// Seed creates every rule through the engine, so each one is validated.
// It stops at the first invalid rule and returns the rules created so far.
func (e *Engine) Seed(rules []*Rule) ([]*Rule, error) {
	created := make([]*Rule, 0, len(rules))
	for i, r := range rules {
		c, err := e.CreateRule(r)
		if err != nil {
			return created, fmt.Errorf("seed rule %d (%s): %w", i, r.Name, err)
		}
		created = append(created, c)
	}
	e.log.Info("rules seeded", "count", len(created))
	return created, nil
}
