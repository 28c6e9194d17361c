// Package tenant carries the mandatory isolation key threaded through every
// ragcore data-plane operation.
package tenant

import "fmt"

// ID is the opaque tenant identifier. Every ragcore store keys its
// partitions by it; an empty ID is never a valid tenant.
type ID string

// Valid reports whether id can be used to scope a data-plane call.
func (id ID) Valid() bool {
	return id != ""
}

func (id ID) String() string {
	return string(id)
}

// Require returns an error if id is empty. Every repository-level
// method that accepts a tenant.ID should call this first so a missing
// filter fails closed instead of silently matching every tenant.
func Require(id ID) error {
	if !id.Valid() {
		return fmt.Errorf("ragcore/tenant: empty tenant id")
	}
	return nil
}
