package domain

import (
	"strconv"
	"testing"
)

func BenchmarkApplyAddVote(b *testing.B) {
	board := NewBoard("bench", []string{"Start", "More", "Keep", "Less", "Stop"})
	delta, err := board.Apply("alice", Mutation{Kind: MutationAddCard, ColumnID: "0", Text: "card"}, 0)
	if err != nil {
		b.Fatalf("add card: %v", err)
	}
	cardID := delta.Card.ID
	for _, stage := range []Stage{StagePresenting, StageVoting} {
		if _, err := board.Apply("f", Mutation{Kind: MutationSetStage, Stage: stage}, 0); err != nil {
			b.Fatalf("set stage: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		voter := "voter-" + strconv.Itoa(i%8)
		if _, err := board.Apply(voter, Mutation{Kind: MutationAddVote, CardID: cardID}, 0); err != nil {
			b.Fatalf("vote: %v", err)
		}
	}
}

func BenchmarkSnapshot(b *testing.B) {
	board := NewBoard("bench", []string{"Start", "More", "Keep", "Less", "Stop"})
	for i := 0; i < 50; i++ {
		col := strconv.Itoa(i % 5)
		if _, err := board.Apply("alice", Mutation{Kind: MutationAddCard, ColumnID: col, Text: "card"}, 0); err != nil {
			b.Fatalf("add card: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if snap := board.Snapshot(); snap == nil {
			b.Fatal("nil snapshot")
		}
	}
}
