package policy

import (
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/schema"
)

// HasRole holds when a user is present and carries the given role.
func HasRole(role string) Condition {
	return func(user *models.User, _ schema.Args) bool {
		return user.HasRole(role)
	}
}

// Owns holds when the entity resolved into the named argument is owned by
// the current user. Absent argument or absent user never satisfies.
func Owns(field string) Condition {
	return func(user *models.User, args schema.Args) bool {
		if user == nil {
			return false
		}
		owned, ok := args[field].(models.Owned)
		return ok && owned.OwnerID() == user.ID
	}
}

// IsUser holds when the user resolved into the named argument is the
// current user.
func IsUser(field string) Condition {
	return func(user *models.User, args schema.Args) bool {
		if user == nil {
			return false
		}
		target, ok := args[field].(*models.User)
		return ok && target.ID == user.ID
	}
}

// Public holds when the entity resolved into the named argument carries a
// set public flag.
func Public(field string) Condition {
	return func(_ *models.User, args schema.Args) bool {
		entity, ok := args[field].(models.PubliclyVisible)
		return ok && entity.IsPublic()
	}
}

// True holds when the named argument was supplied and is truthy: a present
// non-false value. Used to gate alternate policy branches on whether an
// optional parameter (often a reference filter) was given at all.
func True(field string) Condition {
	return func(_ *models.User, args schema.Args) bool {
		value, ok := args[field]
		if !ok || value == nil {
			return false
		}
		if b, isBool := value.(bool); isBool {
			return b
		}
		return true
	}
}
