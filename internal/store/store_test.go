package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"modelarena/internal/models"
	"modelarena/internal/storage"
)

func newTestStore(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db), db
}

func sampleSession(id, title string) *models.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Session{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Turns: []*models.Turn{{
			ID:          id + "-t1",
			CreatedAt:   now,
			UserMessage: models.Message{Role: models.RoleUser, Content: "hello", CreatedAt: now},
			Candidates: map[string]*models.Candidate{
				"alpha": {ModelID: "alpha", Content: "hi there", Status: models.StatusComplete, Feedback: models.FeedbackNone},
			},
			NextContextIDs: []string{"alpha"},
		}},
	}
}

func TestSaveAllLoadAllRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	in := []*models.Session{sampleSession("session-1-1", "first"), sampleSession("session-1-2", "second")}
	in[1].UpdatedAt = in[1].UpdatedAt.Add(time.Minute)
	if err := s.SaveAll(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len = %d", len(out))
	}
	// newest activity first
	if out[0].ID != "session-1-2" || out[1].ID != "session-1-1" {
		t.Fatalf("order = [%s %s]", out[0].ID, out[1].ID)
	}
	turn := out[1].Turns[0]
	cand := turn.Candidate("alpha")
	if cand == nil || cand.Content != "hi there" || cand.Status != models.StatusComplete {
		t.Fatalf("candidate = %+v", cand)
	}
	if len(turn.NextContextIDs) != 1 || turn.NextContextIDs[0] != "alpha" {
		t.Fatalf("next context = %v", turn.NextContextIDs)
	}
}

func TestSaveAllOverwritesWholeList(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveAll(ctx, []*models.Session{sampleSession("session-1-1", "a"), sampleSession("session-1-2", "b")}); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	// the second save no longer contains session-1-2
	if err := s.SaveAll(ctx, []*models.Session{sampleSession("session-1-1", "a renamed")}); err != nil {
		t.Fatalf("save 2: %v", err)
	}

	out, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 1 || out[0].Title != "a renamed" {
		t.Fatalf("out = %+v", out)
	}
}

func TestLoadAllSkipsCorruptDocuments(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveAll(ctx, []*models.Session{sampleSession("session-1-1", "good")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO sessions (id, title, doc, updated_at) VALUES (?, ?, ?, ?)`,
		"session-9-9", "broken", "{not json", time.Now().UTC(),
	); err != nil {
		t.Fatalf("insert corrupt row: %v", err)
	}

	out, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 1 || out[0].ID != "session-1-1" {
		t.Fatalf("out = %+v, want corrupt row skipped", out)
	}
}

func TestSaveAllEmptyListClearsTable(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveAll(ctx, []*models.Session{sampleSession("session-1-1", "a")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveAll(ctx, nil); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	out, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("len = %d, want 0", len(out))
	}
}
