// Package billing holds the rated-event output of the usage pipeline.
//
// A RatedEvent is the finalized, costed record produced for each accepted
// usage event: the original event joined with the matched pricing rule,
// the tier split, the allocation outcome and the itemized cost breakdown.
// It is what the invoicing collaborator bills from and what the
// aggregator rolls up; it is never re-rated.
package billing
