package translate

import (
	"fmt"
	"regexp"
	"strings"
)

// Claims is the roles/permissions/attributes triple produced by Translate.
type Claims struct {
	Roles       map[string]struct{}
	Permissions map[string]struct{}
	Attributes  map[string]any
}

// RoleList returns Roles as a slice. Order is never significant: roles are
// a set.
func (c Claims) RoleList() []string {
	out := make([]string, 0, len(c.Roles))
	for r := range c.Roles {
		out = append(out, r)
	}
	return out
}

// PermissionList returns Permissions as a slice.
func (c Claims) PermissionList() []string {
	out := make([]string, 0, len(c.Permissions))
	for p := range c.Permissions {
		out = append(out, p)
	}
	return out
}

// Translate applies schema to raw claims and returns the resulting roles,
// permissions, and attributes. It is a pure function: identical inputs
// always produce an identical result.
func Translate(schema Schema, claims map[string]any) Claims {
	extracted := extractAll(schema.Sources, claims)
	transformed := transformAll(schema.Transforms, extracted)

	allValues := make(map[string]struct{})
	for _, set := range transformed {
		for v := range set {
			allValues[v] = struct{}{}
		}
	}

	result := Claims{
		Roles:       make(map[string]struct{}),
		Permissions: make(map[string]struct{}),
		Attributes:  make(map[string]any),
	}

	for v := range allValues {
		matched := false
		if perms, ok := schema.Mappings.RoleToPermissions[v]; ok {
			result.Roles[v] = struct{}{}
			for _, p := range perms {
				result.Permissions[p] = struct{}{}
			}
			matched = true
		}
		if perm, ok := schema.Mappings.DirectPermissions[v]; ok {
			result.Permissions[perm] = struct{}{}
			matched = true
		}
		if !matched && schema.Defaults.IncludeUnmapped {
			result.Roles[v] = struct{}{}
		}
	}

	return result
}

// extractAll resolves every source's dotted claim path into a set<string>,
// per its declared SourceType. Sources whose path is absent contribute no
// entry.
func extractAll(sources []Source, claims map[string]any) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(sources))
	for _, src := range sources {
		val, ok := resolvePath(claims, src.ClaimPath)
		if !ok {
			continue
		}
		out[src.Name] = parseByType(val, src.Type)
	}
	return out
}

func resolvePath(claims map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = claims
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func parseByType(val any, t SourceType) map[string]struct{} {
	set := make(map[string]struct{})
	switch t {
	case SourceArray:
		arr, ok := val.([]any)
		if !ok {
			return set
		}
		for _, el := range arr {
			if s := fmt.Sprint(el); s != "" {
				set[s] = struct{}{}
			}
		}
	case SourceSpaceDelimited:
		addSplit(set, fmt.Sprint(val), " ")
	case SourceCommaDelimited:
		addSplit(set, fmt.Sprint(val), ",")
	case SourceSingle:
		s := fmt.Sprint(val)
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

func addSplit(set map[string]struct{}, s, sep string) {
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			set[part] = struct{}{}
		}
	}
}

// transformAll applies each source's operation pipeline, in order, to every
// element of its extracted set.
func transformAll(transforms []Transform, extracted map[string]map[string]struct{}) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(extracted))
	for name, set := range extracted {
		out[name] = cloneSet(set)
	}

	for _, tr := range transforms {
		set, ok := out[tr.Source]
		if !ok {
			continue
		}
		next := make(map[string]struct{}, len(set))
		for v := range set {
			next[applyOps(v, tr.Operations)] = struct{}{}
		}
		out[tr.Source] = next
	}

	return out
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func applyOps(v string, ops []Operation) string {
	for _, op := range ops {
		switch op.Type {
		case OpStripPrefix:
			v = strings.TrimPrefix(v, op.Prefix)
		case OpReplace:
			v = strings.ReplaceAll(v, op.Match, op.Replacement)
		case OpLowercase:
			v = strings.ToLower(v)
		case OpUppercase:
			v = strings.ToUpper(v)
		case OpRegex:
			if re, err := regexp.Compile(op.Match); err == nil {
				v = re.ReplaceAllString(v, op.Replacement)
			}
		}
	}
	return v
}
