// Package translate implements the claim translation engine: a pure,
// deterministic function from a declarative schema and raw claims to
// {roles, permissions, attributes}.
package translate

import (
	"encoding/json"
	"fmt"
)

// SourceType selects how a claim path's raw value is parsed into a set of
// strings.
type SourceType string

const (
	SourceArray          SourceType = "ARRAY"
	SourceSpaceDelimited SourceType = "SPACE_DELIMITED"
	SourceCommaDelimited SourceType = "COMMA_DELIMITED"
	SourceSingle         SourceType = "SINGLE"
)

// OpType is the discriminator of a transform operation, carried in the
// JSON field "type".
type OpType string

const (
	OpStripPrefix OpType = "strip-prefix"
	OpReplace     OpType = "replace"
	OpLowercase   OpType = "lowercase"
	OpUppercase   OpType = "uppercase"
	OpRegex       OpType = "regex"
)

// Source describes one claim to extract.
type Source struct {
	Name      string     `json:"name"`
	ClaimPath string     `json:"claimPath"`
	Type      SourceType `json:"type"`
}

// Operation is one step of a transform pipeline, applied in order to every
// element of its source's set.
type Operation struct {
	Type OpType `json:"type"`
	// Prefix is used by strip-prefix.
	Prefix string `json:"prefix,omitempty"`
	// Match/Replacement are used by replace (literal) and regex (pattern,
	// replaceAll semantics).
	Match       string `json:"match,omitempty"`
	Replacement string `json:"replacement,omitempty"`
}

// Transform binds an ordered operation pipeline to one source.
type Transform struct {
	Source     string      `json:"source"`
	Operations []Operation `json:"operations"`
}

// Mappings maps transformed values to roles/permissions.
type Mappings struct {
	RoleToPermissions map[string][]string `json:"roleToPermissions"`
	DirectPermissions map[string]string   `json:"directPermissions"`
}

// Defaults controls behavior when no mapping matches a value.
type Defaults struct {
	DenyIfNoMatch   bool `json:"denyIfNoMatch"`
	IncludeUnmapped bool `json:"includeUnmapped"`
}

// Schema is the declarative claim-translation configuration. Version is
// carried by configstore.Version, not the schema itself.
type Schema struct {
	Sources    []Source    `json:"sources"`
	Transforms []Transform `json:"transforms"`
	Mappings   Mappings    `json:"mappings"`
	Defaults   Defaults    `json:"defaults"`
}

// ParseSchema decodes and validates a translation-config JSON document.
// Unknown operation types cause the load to fail here, not at translate
// time.
//
// An absent "defaults" block defaults to DenyIfNoMatch=true, the secure
// default. json.Unmarshal alone can't distinguish an absent block from an
// explicit `"defaults":{"denyIfNoMatch":false}`, so presence is checked
// against a raw map first.
func ParseSchema(data []byte) (Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("translate: parsing schema: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Schema{}, fmt.Errorf("translate: parsing schema: %w", err)
	}
	if _, ok := raw["defaults"]; !ok {
		s.Defaults.DenyIfNoMatch = true
	}

	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// Validate rejects schemas referencing unknown source/operation types, or
// transforms binding to an undeclared source.
func (s Schema) Validate() error {
	names := make(map[string]struct{}, len(s.Sources))
	for _, src := range s.Sources {
		switch src.Type {
		case SourceArray, SourceSpaceDelimited, SourceCommaDelimited, SourceSingle:
		default:
			return fmt.Errorf("translate: source %q has unknown type %q", src.Name, src.Type)
		}
		names[src.Name] = struct{}{}
	}

	for _, tr := range s.Transforms {
		if _, ok := names[tr.Source]; !ok {
			return fmt.Errorf("translate: transform references undeclared source %q", tr.Source)
		}
		for _, op := range tr.Operations {
			switch op.Type {
			case OpStripPrefix, OpReplace, OpLowercase, OpUppercase, OpRegex:
			default:
				return fmt.Errorf("translate: transform on %q has unknown operation type %q", tr.Source, op.Type)
			}
		}
	}

	return nil
}
