// Package cedar provides an embedded dual-subject Policy Decision Point
// backed by Cedar policy evaluation. A request is authorized only when the
// agent principal is permitted and, if a human principal is attached, the
// human is independently permitted for the same action and resource.
package cedar

import "github.com/cedar-policy/cedar-go"

// Entity type constants for the AGBAC policy namespace.
const (
	EntityTypeAgent    = cedar.EntityType("AGBAC::Agent")
	EntityTypeHuman    = cedar.EntityType("AGBAC::Human")
	EntityTypeAction   = cedar.EntityType("AGBAC::Action")
	EntityTypeResource = cedar.EntityType("AGBAC::Resource")
)
