package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Card is a single participant-authored note owned by one column.
type Card struct {
	ID         string         `json:"id"`
	ColumnID   string         `json:"columnId"`
	Text       string         `json:"text"`
	Author     string         `json:"author,omitempty"`
	Revealed   bool           `json:"revealed"`
	RevealRank *int           `json:"revealRank,omitempty"`
	CreatedAt  int64          `json:"createdAt"`
	Votes      int            `json:"votes"`
	Ballots    map[string]int `json:"ballots,omitempty"`
}

// Column is a fixed named grouping of cards. Card order is insertion order
// and determines display order outside the discussing stage.
type Column struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Cards []*Card `json:"cards"`
}

// Board holds the authoritative state of one retrospective session. It is not
// safe for concurrent use; a session serializes all access to it.
type Board struct {
	id          string
	stage       Stage
	revision    uint64
	columns     []*Column
	nextReveal  int
	nextCreated int64
}

// NewBoard creates an empty board in the start stage with the given fixed
// column layout.
func NewBoard(id string, columnNames []string) *Board {
	b := &Board{id: id, stage: StageStart}
	for i, name := range columnNames {
		b.columns = append(b.columns, &Column{ID: strconv.Itoa(i), Name: name})
	}
	return b
}

func (b *Board) ID() string       { return b.id }
func (b *Board) Stage() Stage     { return b.stage }
func (b *Board) Revision() uint64 { return b.revision }

func (b *Board) column(id string) *Column {
	for _, col := range b.columns {
		if col.ID == id {
			return col
		}
	}
	return nil
}

func (b *Board) findCard(id string) (*Column, int, *Card) {
	for _, col := range b.columns {
		for i, card := range col.Cards {
			if card.ID == id {
				return col, i, card
			}
		}
	}
	return nil, 0, nil
}

// voterTotal is the number of votes the voter holds across the whole board.
func (b *Board) voterTotal(voter string) int {
	total := 0
	for _, col := range b.columns {
		for _, card := range col.Cards {
			total += card.Ballots[voter]
		}
	}
	return total
}

// Apply validates the mutation against the current stage and entity set and,
// when accepted, applies it atomically and increments the board revision.
// A nil delta with a nil error means the mutation was accepted but produced
// no state change (re-reveal of a revealed card, decrement at the floor);
// the revision is not incremented in that case.
func (b *Board) Apply(actor string, m Mutation, voteLimit int) (*Delta, error) {
	if m.ExpectedRevision != nil && *m.ExpectedRevision != b.revision {
		return nil, reject(ReasonStaleRevision,
			fmt.Sprintf("expected revision %d, board at %d", *m.ExpectedRevision, b.revision))
	}
	if !b.stage.permits(m.Kind) {
		return nil, reject(ReasonStageViolation,
			fmt.Sprintf("%s is not permitted in the %s stage", m.Kind, b.stage))
	}

	var delta *Delta
	var err error
	switch m.Kind {
	case MutationAddCard:
		delta, err = b.addCard(actor, m.ColumnID, m.Text)
	case MutationEditCard:
		delta, err = b.editCard(actor, m.CardID, m.Text)
	case MutationMoveCard:
		delta, err = b.moveCard(actor, m.CardID, m.TargetColumnID)
	case MutationDeleteCard:
		delta, err = b.deleteCard(actor, m.CardID)
	case MutationRevealCard:
		delta, err = b.revealCard(actor, m.CardID)
	case MutationAddVote:
		delta, err = b.addVote(actor, m.CardID, voteLimit)
	case MutationRemoveVote:
		delta, err = b.removeVote(actor, m.CardID)
	case MutationSetStage:
		delta, err = b.setStage(actor, m.Stage)
	default:
		return nil, reject(ReasonInvalidInput, "unknown mutation kind "+string(m.Kind))
	}
	if err != nil || delta == nil {
		return nil, err
	}

	b.revision++
	delta.BoardID = b.id
	delta.Revision = b.revision
	return delta, nil
}

func (b *Board) addCard(actor, columnID, text string) (*Delta, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, reject(ReasonInvalidInput, "card text is empty")
	}
	col := b.column(columnID)
	if col == nil {
		return nil, reject(ReasonUnknownEntity, "column "+columnID)
	}
	card := &Card{
		ID:        uuid.NewString(),
		ColumnID:  col.ID,
		Text:      text,
		Author:    actor,
		CreatedAt: b.nextCreated,
		Ballots:   map[string]int{},
	}
	b.nextCreated++
	col.Cards = append(col.Cards, card)
	return &Delta{Kind: MutationAddCard, Actor: actor, ColumnID: col.ID, CardID: card.ID, Card: card.clone()}, nil
}

func (b *Board) editCard(actor, cardID, text string) (*Delta, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, reject(ReasonInvalidInput, "card text is empty")
	}
	_, _, card := b.findCard(cardID)
	if card == nil {
		return nil, reject(ReasonUnknownEntity, "card "+cardID)
	}
	// Last writer wins; concurrent edits are not merged.
	card.Text = text
	return &Delta{Kind: MutationEditCard, Actor: actor, CardID: card.ID, Text: text}, nil
}

func (b *Board) moveCard(actor, cardID, targetColumnID string) (*Delta, error) {
	source, i, card := b.findCard(cardID)
	if card == nil {
		return nil, reject(ReasonUnknownEntity, "card "+cardID)
	}
	target := b.column(targetColumnID)
	if target == nil {
		return nil, reject(ReasonUnknownEntity, "column "+targetColumnID)
	}
	source.Cards = append(source.Cards[:i], source.Cards[i+1:]...)
	card.ColumnID = target.ID
	target.Cards = append(target.Cards, card)
	return &Delta{Kind: MutationMoveCard, Actor: actor, CardID: card.ID, ColumnID: source.ID, TargetColumnID: target.ID}, nil
}

func (b *Board) deleteCard(actor, cardID string) (*Delta, error) {
	col, i, card := b.findCard(cardID)
	if card == nil {
		return nil, reject(ReasonUnknownEntity, "card "+cardID)
	}
	col.Cards = append(col.Cards[:i], col.Cards[i+1:]...)
	return &Delta{Kind: MutationDeleteCard, Actor: actor, CardID: card.ID, ColumnID: col.ID}, nil
}

func (b *Board) revealCard(actor, cardID string) (*Delta, error) {
	_, _, card := b.findCard(cardID)
	if card == nil {
		return nil, reject(ReasonUnknownEntity, "card "+cardID)
	}
	if card.Revealed {
		return nil, nil
	}
	rank := b.nextReveal
	b.nextReveal++
	card.Revealed = true
	card.RevealRank = &rank
	return &Delta{Kind: MutationRevealCard, Actor: actor, CardID: card.ID, RevealRank: card.RevealRank}, nil
}

func (b *Board) addVote(actor, cardID string, voteLimit int) (*Delta, error) {
	_, _, card := b.findCard(cardID)
	if card == nil {
		return nil, reject(ReasonUnknownEntity, "card "+cardID)
	}
	if voteLimit > 0 && b.voterTotal(actor) >= voteLimit {
		return nil, reject(ReasonVoteLimit,
			fmt.Sprintf("voter has used all %d votes", voteLimit))
	}
	if card.Ballots == nil {
		card.Ballots = map[string]int{}
	}
	card.Ballots[actor]++
	card.Votes++
	votes := card.Votes
	return &Delta{Kind: MutationAddVote, Actor: actor, CardID: card.ID, Votes: &votes}, nil
}

func (b *Board) removeVote(actor, cardID string) (*Delta, error) {
	_, _, card := b.findCard(cardID)
	if card == nil {
		return nil, reject(ReasonUnknownEntity, "card "+cardID)
	}
	if card.Ballots[actor] <= 0 {
		return nil, nil
	}
	card.Ballots[actor]--
	if card.Ballots[actor] == 0 {
		delete(card.Ballots, actor)
	}
	card.Votes--
	votes := card.Votes
	return &Delta{Kind: MutationRemoveVote, Actor: actor, CardID: card.ID, Votes: &votes}, nil
}

func (b *Board) setStage(actor string, target Stage) (*Delta, error) {
	if !target.Valid() {
		return nil, reject(ReasonInvalidInput, "unknown stage "+string(target))
	}
	if !b.stage.Adjacent(target) {
		return nil, reject(ReasonInvalidTransition,
			fmt.Sprintf("cannot move from %s to %s", b.stage, target))
	}
	b.stage = target
	return &Delta{Kind: MutationSetStage, Actor: actor, Stage: target}, nil
}

func (c *Card) clone() *Card {
	out := *c
	if c.RevealRank != nil {
		rank := *c.RevealRank
		out.RevealRank = &rank
	}
	out.Ballots = make(map[string]int, len(c.Ballots))
	for voter, n := range c.Ballots {
		out.Ballots[voter] = n
	}
	return &out
}

// Snapshot deep-copies the full board state into its wire shape.
func (b *Board) Snapshot() *Snapshot {
	snap := &Snapshot{
		BoardID:     b.id,
		Revision:    b.revision,
		Stage:       b.stage,
		NextReveal:  b.nextReveal,
		NextCreated: b.nextCreated,
	}
	for _, col := range b.columns {
		out := &Column{ID: col.ID, Name: col.Name, Cards: make([]*Card, 0, len(col.Cards))}
		for _, card := range col.Cards {
			out.Cards = append(out.Cards, card.clone())
		}
		snap.Columns = append(snap.Columns, out)
	}
	if b.stage == StageDiscussing {
		for _, card := range DiscussionOrder(snap.Columns) {
			snap.DiscussionOrder = append(snap.DiscussionOrder, card.ID)
		}
	}
	return snap
}

// FromSnapshot reconstructs a board from a persisted snapshot.
func FromSnapshot(snap *Snapshot) *Board {
	b := &Board{
		id:          snap.BoardID,
		stage:       snap.Stage,
		revision:    snap.Revision,
		nextReveal:  snap.NextReveal,
		nextCreated: snap.NextCreated,
	}
	if !b.stage.Valid() {
		b.stage = StageStart
	}
	for _, col := range snap.Columns {
		out := &Column{ID: col.ID, Name: col.Name, Cards: make([]*Card, 0, len(col.Cards))}
		for _, card := range col.Cards {
			c := card.clone()
			if c.Ballots == nil {
				c.Ballots = map[string]int{}
			}
			out.Cards = append(out.Cards, c)
		}
		b.columns = append(b.columns, out)
	}
	return b
}

// DiscussionOrder lists all cards ordered for the discussing stage:
// descending vote count, ties broken by ascending creation order.
func DiscussionOrder(columns []*Column) []*Card {
	var cards []*Card
	for _, col := range columns {
		cards = append(cards, col.Cards...)
	}
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].Votes != cards[j].Votes {
			return cards[i].Votes > cards[j].Votes
		}
		return cards[i].CreatedAt < cards[j].CreatedAt
	})
	return cards
}
