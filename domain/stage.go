package domain

// Stage is one of the four sequential phases of a retrospective meeting.
type Stage string

const (
	StageStart      Stage = "start"
	StagePresenting Stage = "presenting"
	StageVoting     Stage = "voting"
	StageDiscussing Stage = "discussing"
)

var stageOrder = []Stage{StageStart, StagePresenting, StageVoting, StageDiscussing}

func (s Stage) index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage value.
func (s Stage) Valid() bool {
	return s.index() >= 0
}

// Adjacent reports whether target is the immediate next or previous stage.
// Transitions are only legal between adjacent stages.
func (s Stage) Adjacent(target Stage) bool {
	i, j := s.index(), target.index()
	if i < 0 || j < 0 {
		return false
	}
	return j-i == 1 || i-j == 1
}

// permits reports whether the given mutation kind is legal in stage s.
// Stage transitions themselves are always submitted and checked separately.
func (s Stage) permits(kind MutationKind) bool {
	switch kind {
	case MutationAddCard, MutationEditCard, MutationMoveCard, MutationDeleteCard:
		return s == StageStart
	case MutationRevealCard:
		return s == StagePresenting
	case MutationAddVote, MutationRemoveVote:
		return s == StageVoting
	case MutationSetStage:
		return true
	}
	return false
}
