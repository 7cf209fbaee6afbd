package models

import "time"

// Session groups an ordered, append-only sequence of turns under a title.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Turns     []*Turn   `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LastTurn returns the newest turn, or nil for an empty session.
func (s *Session) LastTurn() *Turn {
	if s == nil || len(s.Turns) == 0 {
		return nil
	}
	return s.Turns[len(s.Turns)-1]
}

// Turn returns the turn with the given id, or nil.
func (s *Session) Turn(turnID string) *Turn {
	if s == nil {
		return nil
	}
	for _, t := range s.Turns {
		if t.ID == turnID {
			return t
		}
	}
	return nil
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Turns = make([]*Turn, len(s.Turns))
	for i, t := range s.Turns {
		out.Turns[i] = t.Clone()
	}
	return &out
}
