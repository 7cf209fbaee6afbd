package history

import (
	"testing"
	"time"

	"modelarena/internal/models"
)

func turn(id, prompt string, answers map[string]string) *models.Turn {
	t := &models.Turn{
		ID:          id,
		CreatedAt:   time.Now().UTC(),
		UserMessage: models.Message{Role: models.RoleUser, Content: prompt},
		Candidates:  map[string]*models.Candidate{},
	}
	for modelID, text := range answers {
		t.Candidates[modelID] = &models.Candidate{
			ModelID: modelID,
			Content: text,
			Status:  models.StatusComplete,
		}
	}
	return t
}

func roles(msgs []models.Message) []models.Role {
	out := make([]models.Role, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Role)
	}
	return out
}

func TestReconstructFullParticipation(t *testing.T) {
	turns := []*models.Turn{
		turn("t1", "q1", map[string]string{"alpha": "a1", "beta": "b1"}),
		turn("t2", "q2", map[string]string{"alpha": "a2", "beta": "b2"}),
	}
	got := Reconstruct("alpha", turns)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	want := []models.Role{models.RoleUser, models.RoleModel, models.RoleUser, models.RoleModel}
	for i, r := range roles(got) {
		if r != want[i] {
			t.Fatalf("roles = %v, want %v", roles(got), want)
		}
	}
	if got[1].Content != "a1" || got[3].Content != "a2" {
		t.Fatalf("alpha sees other model's text: %q %q", got[1].Content, got[3].Content)
	}
}

func TestReconstructGappedParticipation(t *testing.T) {
	// beta answered turn one, sat out turn two, answered turn three
	turns := []*models.Turn{
		turn("t1", "q1", map[string]string{"alpha": "a1", "beta": "b1"}),
		turn("t2", "q2", map[string]string{"alpha": "a2"}),
		turn("t3", "q3", map[string]string{"beta": "b3"}),
	}
	got := Reconstruct("beta", turns)
	want := []models.Role{models.RoleUser, models.RoleModel, models.RoleUser, models.RoleUser, models.RoleModel}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d: %v", len(got), len(want), roles(got))
	}
	for i, r := range roles(got) {
		if r != want[i] {
			t.Fatalf("roles = %v, want %v (no placeholder for the skipped turn)", roles(got), want)
		}
	}
	// the skipped turn's prompt is still present, back to back with the next
	if got[2].Content != "q2" || got[3].Content != "q3" {
		t.Fatalf("prompts = %q %q", got[2].Content, got[3].Content)
	}
}

func TestReconstructNeverSeenModel(t *testing.T) {
	turns := []*models.Turn{
		turn("t1", "q1", map[string]string{"alpha": "a1"}),
		turn("t2", "q2", map[string]string{"alpha": "a2"}),
	}
	got := Reconstruct("gamma", turns)
	if len(got) != 2 {
		t.Fatalf("len = %d, want user prompts only", len(got))
	}
	for _, m := range got {
		if m.Role != models.RoleUser {
			t.Fatalf("roles = %v", roles(got))
		}
	}
}

func TestReconstructEmptyLedger(t *testing.T) {
	if got := Reconstruct("alpha", nil); len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}

func TestReconstructCopiesMessages(t *testing.T) {
	turns := []*models.Turn{
		turn("t1", "q1", map[string]string{"alpha": "a1"}),
	}
	got := Reconstruct("alpha", turns)
	got[0].Content = "scribbled"
	if turns[0].UserMessage.Content != "q1" {
		t.Fatal("reconstruction aliases the ledger's messages")
	}
}
