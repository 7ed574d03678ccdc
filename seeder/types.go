package seeder

import (
	"github.com/hazyhaar/seeder/seeder/internal/catalog"
	"github.com/hazyhaar/seeder/seeder/internal/state"
)

// Aliases for the internal types callers outside this module tree need to name.
type (
	SourceType = catalog.SourceType
	Status     = state.Status
	ListFilter = state.ListFilter
)

// Statuses lists every source status in pipeline order.
var Statuses = state.Statuses

// ParseStatus validates a status name.
func ParseStatus(v string) (Status, bool) { return state.ParseStatus(v) }

// ParseSourceType resolves a type name, legacy aliases included. The empty
// string means detect from the URL.
func ParseSourceType(v string) (SourceType, bool) {
	if v == "" {
		return "", true
	}
	return catalog.ParseType(v)
}
