package rating

import "github.com/mspbill/backend/internal/domain/shared"

// Rating errors
var (
	// ErrDuplicateEvent means the transaction ID has already been processed.
	// The duplicate is rejected without side effects and must not be retried.
	ErrDuplicateEvent = shared.NewDomainError("DUPLICATE_EVENT", "Usage event with this transaction ID has already been processed")

	// ErrNoApplicableRule means no pricing rule matched the event. The event
	// is parked in the unrated queue for manual rating, never discarded.
	ErrNoApplicableRule = shared.NewDomainError("NO_APPLICABLE_RULE", "No pricing rule applies to this usage event")

	// ErrTierGap means a rule's tiers do not partition the usage axis
	ErrTierGap = shared.NewDomainError("TIER_GAP", "Pricing rule tiers must be contiguous and non-overlapping")
)
