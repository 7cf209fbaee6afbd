// Package store persists the session list as whole JSON documents.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"modelarena/internal/models"
)

// Service reads and writes session documents. One row per session; the
// contract is whole-list load and whole-list overwrite, no incremental
// diffing.
type Service struct {
	db *sql.DB
}

// New builds a store over an opened database.
func New(db *sql.DB) *Service {
	return &Service{db: db}
}

// LoadAll returns every persisted session ordered by last activity. Rows
// whose document fails to parse are logged and skipped, never fatal.
func (s *Service) LoadAll(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, doc FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var (
			id  string
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var se models.Session
		if err := json.Unmarshal(doc, &se); err != nil {
			log.Printf("drop corrupt session document %s: %v", id, err)
			continue
		}
		sessions = append(sessions, &se)
	}
	return sessions, rows.Err()
}

// SaveAll overwrites the persisted list with the given one. Whole-document
// semantics: the table is rewritten inside one transaction, last write wins.
func (s *Service) SaveAll(ctx context.Context, sessions []*models.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		err = fmt.Errorf("clear sessions: %w", err)
		return err
	}
	for _, se := range sessions {
		var doc []byte
		doc, err = json.Marshal(se)
		if err != nil {
			err = fmt.Errorf("encode session %s: %w", se.ID, err)
			return err
		}
		updated := se.UpdatedAt
		if updated.IsZero() {
			updated = time.Now().UTC()
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (id, title, doc, updated_at) VALUES (?, ?, ?, ?)`,
			se.ID, se.Title, doc, updated,
		); err != nil {
			err = fmt.Errorf("insert session %s: %w", se.ID, err)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}
