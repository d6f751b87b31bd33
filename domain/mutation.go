package domain

// MutationKind names a board write operation.
type MutationKind string

const (
	MutationAddCard    MutationKind = "add-card"
	MutationEditCard   MutationKind = "edit-card"
	MutationMoveCard   MutationKind = "move-card"
	MutationDeleteCard MutationKind = "delete-card"
	MutationRevealCard MutationKind = "reveal-card"
	MutationAddVote    MutationKind = "add-vote"
	MutationRemoveVote MutationKind = "remove-vote"
	MutationSetStage   MutationKind = "set-stage"
)

// Mutation is a single write request against a board. ExpectedRevision, when
// present, must match the board's current revision or the mutation is refused
// with a stale-revision rejection.
type Mutation struct {
	Kind             MutationKind `json:"kind"`
	ExpectedRevision *uint64      `json:"expectedRevision,omitempty"`
	ColumnID         string       `json:"columnId,omitempty"`
	CardID           string       `json:"cardId,omitempty"`
	TargetColumnID   string       `json:"targetColumnId,omitempty"`
	Text             string       `json:"text,omitempty"`
	Stage            Stage        `json:"stage,omitempty"`
}

// Delta describes one accepted state change. Every connected observer of a
// board receives deltas in revision order.
type Delta struct {
	BoardID        string       `json:"boardId"`
	Revision       uint64       `json:"revision"`
	Kind           MutationKind `json:"kind"`
	Actor          string       `json:"actor,omitempty"`
	Stage          Stage        `json:"stage,omitempty"`
	ColumnID       string       `json:"columnId,omitempty"`
	TargetColumnID string       `json:"targetColumnId,omitempty"`
	CardID         string       `json:"cardId,omitempty"`
	Card           *Card        `json:"card,omitempty"`
	Text           string       `json:"text,omitempty"`
	RevealRank     *int         `json:"revealRank,omitempty"`
	Votes          *int         `json:"votes,omitempty"`
}

// Snapshot is the complete wire-level state of a board, sent to a client on
// (re)join and used by the persistence layer.
type Snapshot struct {
	BoardID     string    `json:"boardId"`
	Revision    uint64    `json:"revision"`
	Stage       Stage     `json:"stage"`
	Columns     []*Column `json:"columns"`
	NextReveal  int       `json:"nextReveal"`
	NextCreated int64     `json:"nextCreated"`

	// DiscussionOrder lists card ids in display order for the discussing
	// stage. It is derived from votes and creation order, present only when
	// the board is in that stage.
	DiscussionOrder []string `json:"discussionOrder,omitempty"`
}
