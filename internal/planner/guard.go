package planner

// NeedsGuard decides whether pagination must be protected from row
// multiplication. It triggers on join presence, not on whether a filter or
// sort actually exercises the to-many relation: an eager-loaded multiplying
// relation corrupts LIMIT/OFFSET windows just the same. Without pagination,
// or without a multiplying join, the guard skips itself entirely.
func NeedsGuard(joins *JoinRegistry, page PageRequest) bool {
	return page.Requested() && joins.HasToMany()
}
