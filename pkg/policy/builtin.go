package policy

// Builtins returns the built-in policies.
func Builtins() []Policy {
	return []Policy{
		routeNamespacePolicy(),
		guardedWritesPolicy(),
		resourceNamingPolicy(),
	}
}

// routeNamespacePolicy keeps every route under the project's REST namespace.
func routeNamespacePolicy() Policy {
	return Policy{
		Name:        "route-namespace",
		Description: "Route paths must start with /<namespace>/",
		Severity:    SeverityError,
		Source:      "builtin",
		Rego: `package wpk.builtin.routes

import rego.v1

deny contains violation if {
	some resource in input.resources
	some route in resource.routes
	prefix := sprintf("/%s/", [input.meta.namespace])
	not startswith(route.path, prefix)
	violation := {
		"message": sprintf("route %s %s is outside the %s REST namespace", [route.method, route.path, input.meta.namespace]),
		"resource": resource.key,
	}
}`,
	}
}

// guardedWritesPolicy warns about write routes without a capability.
func guardedWritesPolicy() Policy {
	return Policy{
		Name:        "guarded-writes",
		Description: "Write routes should require a capability",
		Severity:    SeverityWarning,
		Source:      "builtin",
		Rego: `package wpk.builtin.capabilities

import rego.v1

write_kinds := {"create", "update", "remove"}

deny contains violation if {
	some resource in input.resources
	some route in resource.routes
	route.kind in write_kinds
	not route.capability
	violation := {
		"message": sprintf("%s route %s of %s has no capability", [route.kind, route.path, resource.key]),
		"resource": resource.key,
	}
}`,
	}
}

// resourceNamingPolicy enforces identifier-safe resource names.
func resourceNamingPolicy() Policy {
	return Policy{
		Name:        "resource-naming",
		Description: "Resource names must be lower camel case identifiers",
		Severity:    SeverityError,
		Source:      "builtin",
		Rego: `package wpk.builtin.naming

import rego.v1

deny contains violation if {
	some resource in input.resources
	not regex.match("^[a-z][a-zA-Z0-9]*$", resource.name)
	violation := {
		"message": sprintf("resource name '%s' must be a lower camel case identifier", [resource.name]),
		"resource": resource.key,
	}
}

deny contains violation if {
	some resource in input.resources
	count(resource.name) > 48
	violation := {
		"message": sprintf("resource name '%s' must not exceed 48 characters", [resource.name]),
		"resource": resource.key,
	}
}`,
	}
}
