package translate

import (
	"reflect"
	"sort"
	"testing"
)

func TestTranslate_RoleToPermissionsAndDirectPermissions(t *testing.T) {
	schema := Schema{
		Sources: []Source{
			{Name: "groups", ClaimPath: "groups", Type: SourceArray},
			{Name: "scope", ClaimPath: "scope", Type: SourceSpaceDelimited},
		},
		Transforms: []Transform{
			{Source: "groups", Operations: []Operation{{Type: OpStripPrefix, Prefix: "group:"}}},
		},
		Mappings: Mappings{
			RoleToPermissions: map[string][]string{
				"admin": {"read", "write"},
			},
			DirectPermissions: map[string]string{
				"billing:read": "read-billing",
			},
		},
		Defaults: Defaults{DenyIfNoMatch: false, IncludeUnmapped: false},
	}
	claims := map[string]any{
		"groups": []any{"group:admin"},
		"scope":  "billing:read",
	}

	got := Translate(schema, claims)

	if !reflect.DeepEqual(got.RoleList(), []string{"admin"}) {
		t.Errorf("Roles = %v, want [admin]", got.RoleList())
	}
	perms := got.PermissionList()
	sort.Strings(perms)
	if !reflect.DeepEqual(perms, []string{"read", "read-billing", "write"}) {
		t.Errorf("Permissions = %v, want [read read-billing write]", perms)
	}
}

func TestTranslate_IncludeUnmapped(t *testing.T) {
	schema := Schema{
		Sources:  []Source{{Name: "roles", ClaimPath: "roles", Type: SourceSpaceDelimited}},
		Defaults: Defaults{IncludeUnmapped: true},
	}
	got := Translate(schema, map[string]any{"roles": "unknown-role"})
	if !reflect.DeepEqual(got.RoleList(), []string{"unknown-role"}) {
		t.Errorf("Roles = %v, want [unknown-role] when IncludeUnmapped is set", got.RoleList())
	}
}

func TestTranslate_ExcludeUnmapped(t *testing.T) {
	schema := Schema{
		Sources:  []Source{{Name: "roles", ClaimPath: "roles", Type: SourceSpaceDelimited}},
		Defaults: Defaults{IncludeUnmapped: false},
	}
	got := Translate(schema, map[string]any{"roles": "unknown-role"})
	if len(got.Roles) != 0 {
		t.Errorf("Roles = %v, want empty when IncludeUnmapped is false and nothing matched", got.RoleList())
	}
}

func TestTranslate_MissingClaimPathYieldsNothing(t *testing.T) {
	schema := Schema{
		Sources:  []Source{{Name: "roles", ClaimPath: "nested.roles", Type: SourceSpaceDelimited}},
		Defaults: Defaults{IncludeUnmapped: true},
	}
	got := Translate(schema, map[string]any{"unrelated": "x"})
	if len(got.Roles) != 0 || len(got.Permissions) != 0 {
		t.Errorf("expected no roles/permissions for a missing claim path, got %+v", got)
	}
}

func TestTranslate_NestedClaimPath(t *testing.T) {
	schema := Schema{
		Sources:  []Source{{Name: "roles", ClaimPath: "realm_access.roles", Type: SourceArray}},
		Defaults: Defaults{IncludeUnmapped: true},
	}
	claims := map[string]any{
		"realm_access": map[string]any{"roles": []any{"engineer"}},
	}
	got := Translate(schema, claims)
	if !reflect.DeepEqual(got.RoleList(), []string{"engineer"}) {
		t.Errorf("Roles = %v, want [engineer]", got.RoleList())
	}
}

func TestTranslate_IsDeterministic(t *testing.T) {
	schema := Schema{
		Sources: []Source{{Name: "roles", ClaimPath: "roles", Type: SourceCommaDelimited}},
		Transforms: []Transform{
			{Source: "roles", Operations: []Operation{{Type: OpLowercase}, {Type: OpUppercase}}},
		},
		Defaults: Defaults{IncludeUnmapped: true},
	}
	claims := map[string]any{"roles": "Admin,Engineer"}

	first := Translate(schema, claims)
	second := Translate(schema, claims)
	if !reflect.DeepEqual(sortedRoles(first), sortedRoles(second)) {
		t.Errorf("Translate is not deterministic: %v != %v", sortedRoles(first), sortedRoles(second))
	}
}

func sortedRoles(c Claims) []string {
	out := c.RoleList()
	sort.Strings(out)
	return out
}

func TestParseSchema_RejectsUnknownSourceType(t *testing.T) {
	_, err := ParseSchema([]byte(`{"sources":[{"name":"x","claimPath":"x","type":"BOGUS"}]}`))
	if err == nil {
		t.Fatal("expected an error for an unknown source type")
	}
}

func TestParseSchema_RejectsUnknownOperationType(t *testing.T) {
	raw := []byte(`{
		"sources":[{"name":"x","claimPath":"x","type":"SINGLE"}],
		"transforms":[{"source":"x","operations":[{"type":"bogus-op"}]}]
	}`)
	if _, err := ParseSchema(raw); err == nil {
		t.Fatal("expected an error for an unknown operation type")
	}
}

func TestParseSchema_AbsentDefaultsBlockDeniesIfNoMatch(t *testing.T) {
	raw := []byte(`{"sources":[{"name":"x","claimPath":"x","type":"SINGLE"}]}`)
	schema, err := ParseSchema(raw)
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	if !schema.Defaults.DenyIfNoMatch {
		t.Error("DenyIfNoMatch = false, want true when the defaults block is absent (secure default)")
	}
}

func TestParseSchema_ExplicitDefaultsBlockIsRespected(t *testing.T) {
	raw := []byte(`{
		"sources":[{"name":"x","claimPath":"x","type":"SINGLE"}],
		"defaults":{"denyIfNoMatch":false,"includeUnmapped":true}
	}`)
	schema, err := ParseSchema(raw)
	if err != nil {
		t.Fatalf("ParseSchema: %v", err)
	}
	if schema.Defaults.DenyIfNoMatch {
		t.Error("DenyIfNoMatch = true, want false: explicit defaults block set it to false")
	}
	if !schema.Defaults.IncludeUnmapped {
		t.Error("IncludeUnmapped = false, want true per the explicit defaults block")
	}
}

func TestParseSchema_RejectsUndeclaredSource(t *testing.T) {
	raw := []byte(`{
		"sources":[],
		"transforms":[{"source":"missing","operations":[]}]
	}`)
	if _, err := ParseSchema(raw); err == nil {
		t.Fatal("expected an error for a transform referencing an undeclared source")
	}
}

func TestApplyOps_RegexReplace(t *testing.T) {
	got := applyOps("role-123", []Operation{{Type: OpRegex, Match: `-\d+$`, Replacement: ""}})
	if got != "role" {
		t.Errorf("applyOps regex = %q, want %q", got, "role")
	}
}

func TestApplyOps_StripPrefix(t *testing.T) {
	got := applyOps("group:admin", []Operation{{Type: OpStripPrefix, Prefix: "group:"}})
	if got != "admin" {
		t.Errorf("applyOps strip-prefix = %q, want %q", got, "admin")
	}
}
