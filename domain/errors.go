package domain

import "errors"

// RejectReason classifies why a mutation was refused.
type RejectReason string

const (
	ReasonInvalidInput      RejectReason = "invalid-input"
	ReasonInvalidTransition RejectReason = "invalid-transition"
	ReasonStageViolation    RejectReason = "stage-violation"
	ReasonUnknownEntity     RejectReason = "unknown-entity"
	ReasonStaleRevision     RejectReason = "stale-revision"
	ReasonVoteLimit         RejectReason = "vote-limit"
)

// Rejection is the client-visible error for a refused mutation. Rejections
// never change board state and are reported only to the requesting client.
type Rejection struct {
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return string(r.Reason) + ": " + r.Detail
}

func reject(reason RejectReason, detail string) *Rejection {
	return &Rejection{Reason: reason, Detail: detail}
}

// ReasonOf extracts the rejection reason from err, if it carries one.
func ReasonOf(err error) (RejectReason, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason, true
	}
	return "", false
}
