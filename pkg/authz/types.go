package authz

import (
	"fmt"
	"strings"
)

const (
	userPrefix            = "user"
	rolePrefix            = "role"
	objectSeparator       = "."
	subjectSeparator      = ":"
	defaultActionWildcard = "*"
)

// Roster objects and actions referenced by the policy file.
var (
	ObjectImports     = ObjectName("roster", "imports")
	ObjectMembers     = ObjectName("roster", "members")
	ObjectDeltas      = ObjectName("roster", "deltas")
	ObjectApprovals   = ObjectName("roster", "approvals")
	ObjectPermissions = ObjectName("roster", "permissions")
	ObjectStructure   = ObjectName("roster", "structure")
)

const (
	ActionRead        = "read"
	ActionRun         = "run"
	ActionEdit        = "edit"
	ActionResolve     = "resolve"
	ActionBulkResolve = "bulk_resolve"
	ActionPropose     = "propose"
	ActionDecide      = "decide"
	ActionGrant       = "grant"
)

// Request encapsulates all parameters required to evaluate a Casbin rule.
type Request struct {
	Subject string
	Object  string
	Action  string
}

func NewRequest(subject, object, action string) Request {
	return Request{
		Subject: subject,
		Object:  object,
		Action:  NormalizeAction(action),
	}
}

// SubjectForUser builds a subject identifier in the form user:{userID}.
func SubjectForUser(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = "anonymous"
	}
	return userPrefix + subjectSeparator + userID
}

// SubjectForRole returns the canonical identifier for a role-based subject.
func SubjectForRole(roleSlug string) string {
	roleSlug = strings.TrimSpace(roleSlug)
	if roleSlug == "" {
		roleSlug = "unnamed"
	}
	if strings.HasPrefix(roleSlug, rolePrefix+subjectSeparator) {
		return roleSlug
	}
	return fmt.Sprintf("%s%s%s", rolePrefix, subjectSeparator, strings.ToLower(roleSlug))
}

// ObjectName returns the canonical module.resource string, lowercased.
func ObjectName(module, resource string) string {
	module = strings.ToLower(strings.TrimSpace(module))
	resource = strings.ToLower(strings.TrimSpace(resource))
	if module == "" {
		module = "global"
	}
	if resource == "" {
		resource = "resource"
	}
	return module + objectSeparator + resource
}

// NormalizeAction returns a normalized action string.
func NormalizeAction(action string) string {
	action = strings.ToLower(strings.TrimSpace(action))
	if action == "" {
		return defaultActionWildcard
	}
	return action
}
