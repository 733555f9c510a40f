package rbac

import (
	"slices"
	"strings"
)

const (
	// Wildcard granted alone matches every permission; as the last segment
	// ("orders.*") it matches everything under that prefix.
	Wildcard = "*"

	delimiter = "."
)

// Matches reports whether a granted permission name covers required.
func Matches(granted, required string) bool {
	if required == "" {
		return false
	}
	if granted == required || granted == Wildcard {
		return true
	}
	if prefix, ok := strings.CutSuffix(granted, delimiter+Wildcard); ok {
		return strings.HasPrefix(required, prefix+delimiter)
	}
	return false
}

// HasPermission reports whether any of granted covers required.
func HasPermission(granted []string, required string) bool {
	for _, g := range granted {
		if Matches(g, required) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether granted covers every one of required.
func HasAllPermissions(granted []string, required ...string) bool {
	if slices.Contains(granted, Wildcard) {
		return true
	}
	for _, r := range required {
		if !HasPermission(granted, r) {
			return false
		}
	}
	return true
}

// HasAnyPermission reports whether granted covers at least one of required.
// An empty required list is satisfied.
func HasAnyPermission(granted []string, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if HasPermission(granted, r) {
			return true
		}
	}
	return false
}

// Names extracts permission names from a resolved set.
func Names(set []EffectivePermission) []string {
	out := make([]string, len(set))
	for i, ep := range set {
		out[i] = ep.Permission
	}
	return out
}
