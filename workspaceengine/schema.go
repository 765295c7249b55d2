package workspaceengine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/liamcoop/automations/rules"
)

const (
	maxSchemaEntities = 20
	maxSchemaFields   = 200
	maxFieldPathLen   = 100
)

var fieldPathPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z0-9_]+)*$`)

// Schema describes the event payload a workspace emits, per entity kind.
// Field keys are dot paths into Event.Data; values are field types.
//
// A schema is advisory: it never blocks an event, but rules referencing
// undeclared fields or comparing non-numeric fields numerically get warnings.
type Schema map[rules.EntityKind]map[string]string

// Field types a schema may declare
const (
	TypeString = "string"
	TypeNumber = "number"
	TypeBool   = "bool"
	TypeList   = "list"
	TypeMap    = "map"
	TypeAny    = "any"
)

// ValidateSchema checks a schema definition. An empty schema is valid and
// disables field checks for the workspace.
func ValidateSchema(schema Schema) error {
	if len(schema) > maxSchemaEntities {
		return fmt.Errorf("schema contains %d entity kinds, maximum allowed is %d", len(schema), maxSchemaEntities)
	}

	for kind, fields := range schema {
		if !isKnownEntityKind(kind) {
			return fmt.Errorf("schema declares unknown entity kind %q", kind)
		}

		if len(fields) == 0 {
			return fmt.Errorf("entity %q must declare at least one field", kind)
		}
		if len(fields) > maxSchemaFields {
			return fmt.Errorf("entity %q declares %d fields, maximum allowed is %d", kind, len(fields), maxSchemaFields)
		}

		for path, typeName := range fields {
			if err := validateFieldPath(path); err != nil {
				return fmt.Errorf("invalid field %q in entity %q: %w", path, kind, err)
			}

			if typeName == "" {
				return fmt.Errorf("field %q in entity %q has empty type name", path, kind)
			}
			if strings.TrimSpace(typeName) != typeName {
				return fmt.Errorf("field %q in entity %q has type with leading/trailing whitespace: %q", path, kind, typeName)
			}
			if !isValidFieldType(typeName) {
				return fmt.Errorf("field %q in entity %q has invalid type %q (must be one of: string, number, bool, list, map, any)", path, kind, typeName)
			}
		}
	}

	return nil
}

// CheckRule returns warnings for trigger filters and conditions that reference
// fields the schema does not declare for the rule's entity kind.
func (s Schema) CheckRule(rule *rules.Rule) []string {
	fields, ok := s[rule.Trigger.Entity]
	if !ok {
		return nil
	}

	var warnings []string
	for path := range rule.Trigger.Filters {
		if _, declared := fieldType(fields, path); !declared {
			warnings = append(warnings, fmt.Sprintf("trigger filter %q is not declared for entity %q", path, rule.Trigger.Entity))
		}
	}

	for i, c := range rule.Conditions {
		typeName, declared := fieldType(fields, c.Field)
		if !declared {
			warnings = append(warnings, fmt.Sprintf("condition %d field %q is not declared for entity %q", i, c.Field, rule.Trigger.Entity))
			continue
		}
		if c.Operator == rules.OpGreaterThan || c.Operator == rules.OpLessThan {
			switch typeName {
			case TypeBool, TypeList, TypeMap:
				warnings = append(warnings, fmt.Sprintf("condition %d compares %s field %q numerically", i, typeName, c.Field))
			}
		}
	}
	return warnings
}

// fieldType resolves path against the declared fields. A map, list or any
// typed prefix covers every path below it.
func fieldType(fields map[string]string, path string) (string, bool) {
	if t, ok := fields[path]; ok {
		return t, true
	}
	segs := strings.Split(path, ".")
	for i := len(segs) - 1; i > 0; i-- {
		switch t := fields[strings.Join(segs[:i], ".")]; t {
		case TypeMap, TypeList, TypeAny:
			return TypeAny, true
		}
	}
	return "", false
}

// validateFieldPath checks a dot path field key
func validateFieldPath(path string) error {
	if len(path) == 0 {
		return fmt.Errorf("field path cannot be empty")
	}
	if len(path) > maxFieldPathLen {
		return fmt.Errorf("field path length %d exceeds maximum of %d characters", len(path), maxFieldPathLen)
	}
	if !fieldPathPattern.MatchString(path) {
		return fmt.Errorf("must be dot-separated identifiers starting with a letter or underscore")
	}
	return nil
}

func isValidFieldType(typeName string) bool {
	switch typeName {
	case TypeString, TypeNumber, TypeBool, TypeList, TypeMap, TypeAny:
		return true
	}
	return false
}

func isKnownEntityKind(kind rules.EntityKind) bool {
	switch kind {
	case rules.EntityTask, rules.EntityProject, rules.EntityUser, rules.EntitySprint, rules.EntityTeam:
		return true
	}
	return false
}
