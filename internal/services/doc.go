// Package services defines the shared error taxonomy and context
// annotations used by gridtag's components. Sentinel markers distinguish
// configuration failures, which abort a run before the batch starts, from
// item-scoped failures, which are recorded and skipped.
package services
