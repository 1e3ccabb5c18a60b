// Package policy maps caller roles to the scopes and classification
// levels they may retrieve. The table is closed and fail-closed: an
// unknown role resolves to the reader policy, never to admin.
package policy

import "fmt"

// Role identifies a caller's access level.
type Role string

const (
	RoleReader  Role = "reader"
	RoleDev     Role = "dev"
	RoleInfra   Role = "infra"
	RoleInfosec Role = "infosec"
	RoleAdmin   Role = "admin"
)

// Scope tags a chunk's subject area.
type Scope string

const (
	ScopeGeneral  Scope = "GENERAL"
	ScopeSecurity Scope = "SECURITY"
	ScopeDev      Scope = "DEV"
	ScopeInfra    Scope = "INFRA"
)

// Classification tags a chunk's sensitivity level.
type Classification string

const (
	ClassPublic       Classification = "PUBLIC"
	ClassInternal     Classification = "INTERNAL"
	ClassConfidential Classification = "CONFIDENTIAL"
	ClassPII          Classification = "PII"
)

var validRoles = map[Role]struct{}{
	RoleReader:  {},
	RoleDev:     {},
	RoleInfra:   {},
	RoleInfosec: {},
	RoleAdmin:   {},
}

// Valid reports whether the role is part of the closed enumeration.
func (r Role) Valid() bool {
	_, ok := validRoles[r]
	return ok
}

var scopeTable = map[Role][]Scope{
	RoleAdmin:   {ScopeGeneral, ScopeSecurity, ScopeDev, ScopeInfra},
	RoleInfosec: {ScopeGeneral, ScopeSecurity},
	RoleDev:     {ScopeGeneral, ScopeDev},
	RoleInfra:   {ScopeGeneral, ScopeInfra},
	RoleReader:  {ScopeGeneral},
}

var classTable = map[Role][]Classification{
	RoleAdmin:   {ClassPublic, ClassInternal, ClassConfidential, ClassPII},
	RoleInfosec: {ClassPublic, ClassInternal, ClassConfidential},
	RoleDev:     {ClassPublic, ClassInternal},
	RoleInfra:   {ClassPublic, ClassInternal},
	RoleReader:  {ClassPublic, ClassInternal},
}

// AllowedScopes returns the scopes the role may read. Unknown roles get
// the reader set.
func AllowedScopes(role Role) []Scope {
	scopes, ok := scopeTable[role]
	if !ok {
		scopes = scopeTable[RoleReader]
	}
	out := make([]Scope, len(scopes))
	copy(out, scopes)
	return out
}

// AllowedClassifications returns the classification levels the role may
// read. Unknown roles get the reader set.
func AllowedClassifications(role Role) []Classification {
	classes, ok := classTable[role]
	if !ok {
		classes = classTable[RoleReader]
	}
	out := make([]Classification, len(classes))
	copy(out, classes)
	return out
}

// ScopeAllowed reports whether the role may read the scope.
func ScopeAllowed(role Role, scope Scope) bool {
	for _, s := range AllowedScopes(role) {
		if s == scope {
			return true
		}
	}
	return false
}

// ClassificationAllowed reports whether the role may read the classification.
func ClassificationAllowed(role Role, class Classification) bool {
	for _, c := range AllowedClassifications(role) {
		if c == class {
			return true
		}
	}
	return false
}

// ViolationError indicates a request for scopes or classifications
// outside the caller's allow-set. It is never silently widened.
type ViolationError struct {
	Role   Role
	Detail string
}

func (e ViolationError) Error() string {
	return fmt.Sprintf("policy violation for role %q: %s", e.Role, e.Detail)
}
