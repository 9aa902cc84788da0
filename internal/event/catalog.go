package event

// The event-type catalog. Closed and versioned by deployment: producers may
// publish unknown types, but nothing will route them.
const (
	TypeUserLogin             = "user.login"
	TypeUserCreated           = "user.created"
	TypeContestCreated        = "contest.created"
	TypeContestCertified      = "contest.certified"
	TypeCategoryCreated       = "category.created"
	TypeCategoryCertified     = "category.certified"
	TypeContestantCreated     = "contestant.created"
	TypeAssignmentCreated     = "assignment.created"
	TypeScoreSubmitted        = "score.submitted"
	TypeScoreUpdated          = "score.updated"
	TypeScoresFinalized       = "scores.finalized"
	TypeCertificationApproved = "certification.approved"
	TypeCertificationRejected = "certification.rejected"
)

// Delivery priorities. Higher dequeues first when multiple jobs are ready.
const (
	PriorityHigh   = 10
	PriorityMedium = 5
	PriorityLow    = 1
)

var catalog = map[string]struct{}{
	TypeUserLogin:             {},
	TypeUserCreated:           {},
	TypeContestCreated:        {},
	TypeContestCertified:      {},
	TypeCategoryCreated:       {},
	TypeCategoryCertified:     {},
	TypeContestantCreated:     {},
	TypeAssignmentCreated:     {},
	TypeScoreSubmitted:        {},
	TypeScoreUpdated:          {},
	TypeScoresFinalized:       {},
	TypeCertificationApproved: {},
	TypeCertificationRejected: {},
}

// highPriority holds types whose latency matters to a running contest:
// logins, score submission, finalization, and certification decisions.
var highPriority = map[string]struct{}{
	TypeUserLogin:             {},
	TypeScoreSubmitted:        {},
	TypeScoresFinalized:       {},
	TypeCertificationApproved: {},
	TypeCertificationRejected: {},
}

var mediumPriority = map[string]struct{}{
	TypeUserCreated:       {},
	TypeContestCreated:    {},
	TypeCategoryCreated:   {},
	TypeContestantCreated: {},
	TypeAssignmentCreated: {},
}

// auditable is the explicit allow-list consumed by the audit handler.
// user.login is deliberately excluded: logins are tracked by the statistics
// handler and would swamp the audit log.
var auditable = map[string]struct{}{
	TypeUserCreated:           {},
	TypeContestCreated:        {},
	TypeContestCertified:      {},
	TypeCategoryCreated:       {},
	TypeCategoryCertified:     {},
	TypeContestantCreated:     {},
	TypeAssignmentCreated:     {},
	TypeScoreSubmitted:        {},
	TypeScoreUpdated:          {},
	TypeScoresFinalized:       {},
	TypeCertificationApproved: {},
	TypeCertificationRejected: {},
}

// Known reports whether t is a member of the catalog.
func Known(t string) bool {
	_, ok := catalog[t]
	return ok
}

// Types returns the catalog as a slice, for validating webhook subscriptions.
func Types() []string {
	out := make([]string, 0, len(catalog))
	for t := range catalog {
		out = append(out, t)
	}
	return out
}

// Priority statically classifies an event type.
func Priority(t string) int {
	if _, ok := highPriority[t]; ok {
		return PriorityHigh
	}
	if _, ok := mediumPriority[t]; ok {
		return PriorityMedium
	}
	return PriorityLow
}

// Auditable reports whether the audit handler records events of this type.
func Auditable(t string) bool {
	_, ok := auditable[t]
	return ok
}
