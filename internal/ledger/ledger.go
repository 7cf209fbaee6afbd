// Package ledger owns the authoritative turn ledger for every session.
// All mutations are linearized through a single goroutine: synchronous
// operations travel over callCh, high-frequency candidate mutations from
// streaming tasks travel over eventCh as (session, turn, model) events.
// Either way exactly one goroutine touches the data.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"modelarena/internal/models"
	"modelarena/internal/registry"
)

const (
	eventQueueLen = 256
	titleMaxRunes = 48
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTurnNotFound    = errors.New("turn not found")
	ErrUnknownModel    = errors.New("model not registered")
	ErrGenerating      = errors.New("turn is still generating")
)

// Store is the persistence collaborator: whole-document load and save of
// the full session list, last write wins.
type Store interface {
	LoadAll(ctx context.Context) ([]*models.Session, error)
	SaveAll(ctx context.Context, sessions []*models.Session) error
}

// Ledger is the single-writer actor over all sessions.
type Ledger struct {
	store Store
	reg   *registry.Registry

	callCh  chan func()
	eventCh chan candidateEvent
	stopCh  chan struct{}

	// owned by the run goroutine
	sessions []*models.Session
	byID     map[string]*models.Session

	// continuing-context set used before the first turn exists
	defaultActive []string

	// sessionID -> turnID with an in-flight fan-out
	generating map[string]string
}

// candidateEvent is one field-level merge against a single candidate.
// Zero-valued fields are left untouched.
type candidateEvent struct {
	sessionID string
	turnID    string
	modelID   string
	content   *string
	status    *models.CandidateStatus
	reset     bool
}

var idSeq int64

func newID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixMilli(), atomic.AddInt64(&idSeq, 1))
}

// New builds the ledger. Call Load before Start to restore persisted state.
func New(store Store, reg *registry.Registry) *Ledger {
	return &Ledger{
		store:         store,
		reg:           reg,
		callCh:        make(chan func()),
		eventCh:       make(chan candidateEvent, eventQueueLen),
		stopCh:        make(chan struct{}),
		byID:          make(map[string]*models.Session),
		defaultActive: reg.IDs(),
		generating:    make(map[string]string),
	}
}

// Load restores the session list from the store. Candidates persisted in a
// non-terminal status are stranded generations from an interrupted process
// and are normalized to error. Must be called before Start.
func (l *Ledger) Load(ctx context.Context) error {
	sessions, err := l.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	for _, se := range sessions {
		for _, turn := range se.Turns {
			for _, cand := range turn.Candidates {
				if !cand.Status.Terminal() {
					cand.Status = models.StatusError
				}
				if cand.Feedback == "" {
					cand.Feedback = models.FeedbackNone
				}
			}
		}
		l.sessions = append(l.sessions, se)
		l.byID[se.ID] = se
	}
	return nil
}

// Start launches the owning goroutine.
func (l *Ledger) Start() {
	go l.run()
}

// Stop terminates the owning goroutine. Pending events are drained first.
func (l *Ledger) Stop() {
	close(l.stopCh)
}

func (l *Ledger) run() {
	for {
		select {
		case fn := <-l.callCh:
			// events enqueued before this call must land first, so a
			// read after a settle barrier always sees final candidate
			// state
			l.drainEvents()
			fn()
		case ev := <-l.eventCh:
			l.applyEvent(ev)
		case <-l.stopCh:
			l.drainEvents()
			return
		}
	}
}

func (l *Ledger) drainEvents() {
	for {
		select {
		case ev := <-l.eventCh:
			l.applyEvent(ev)
		default:
			return
		}
	}
}

// call runs fn on the owning goroutine and waits for it.
func (l *Ledger) call(fn func()) {
	done := make(chan struct{})
	select {
	case l.callCh <- func() { fn(); close(done) }:
		<-done
	case <-l.stopCh:
	}
}

// --- session lifecycle ---

// CreateSession appends a new empty session titled from the first prompt.
func (l *Ledger) CreateSession(title string) *models.Session {
	var out *models.Session
	l.call(func() {
		now := time.Now().UTC()
		se := &models.Session{
			ID:        newID("session"),
			Title:     TruncateTitle(title),
			CreatedAt: now,
			UpdatedAt: now,
		}
		l.sessions = append(l.sessions, se)
		l.byID[se.ID] = se
		out = se.Clone()
	})
	return out
}

// Sessions returns deep copies of every session, newest activity first.
func (l *Ledger) Sessions() []*models.Session {
	var out []*models.Session
	l.call(func() {
		out = make([]*models.Session, 0, len(l.sessions))
		for _, se := range l.sessions {
			out = append(out, se.Clone())
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Session returns a deep copy of one session.
func (l *Ledger) Session(sessionID string) (*models.Session, error) {
	var (
		out *models.Session
		err error
	)
	l.call(func() {
		se, ok := l.byID[sessionID]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		out = se.Clone()
	})
	return out, err
}

// RenameSession sets an explicit title.
func (l *Ledger) RenameSession(sessionID, title string) error {
	var err error
	l.call(func() {
		se, ok := l.byID[sessionID]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		se.Title = TruncateTitle(title)
		se.UpdatedAt = time.Now().UTC()
		l.persistLocked()
	})
	return err
}

// DeleteSession drops the session and its ledger. In-flight tasks keep
// running; their late events no longer match anything and are discarded.
func (l *Ledger) DeleteSession(sessionID string) error {
	var err error
	l.call(func() {
		if _, ok := l.byID[sessionID]; !ok {
			err = ErrSessionNotFound
			return
		}
		delete(l.byID, sessionID)
		delete(l.generating, sessionID)
		for i, se := range l.sessions {
			if se.ID == sessionID {
				l.sessions = append(l.sessions[:i], l.sessions[i+1:]...)
				break
			}
		}
		l.persistLocked()
	})
	return err
}

// --- turn ledger ---

// AppendTurn creates a new turn with one pending candidate per participant
// and the continuing-context set initialized to the participants. Every
// participant must be a registered model.
func (l *Ledger) AppendTurn(sessionID string, userMessage models.Message, participants []string) (*models.Turn, error) {
	var (
		out *models.Turn
		err error
	)
	l.call(func() {
		se, ok := l.byID[sessionID]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		for _, id := range participants {
			if !l.reg.Has(id) {
				err = fmt.Errorf("%w: %s", ErrUnknownModel, id)
				return
			}
		}
		now := time.Now().UTC()
		turn := &models.Turn{
			ID:             newID("turn"),
			CreatedAt:      now,
			UserMessage:    userMessage.Clone(),
			Candidates:     make(map[string]*models.Candidate, len(participants)),
			NextContextIDs: append([]string(nil), participants...),
		}
		for _, id := range participants {
			turn.Candidates[id] = &models.Candidate{
				ModelID:  id,
				Status:   models.StatusPending,
				Feedback: models.FeedbackNone,
			}
		}
		se.Turns = append(se.Turns, turn)
		se.UpdatedAt = now
		out = turn.Clone()
		l.persistLocked()
	})
	return out, err
}

// TurnsBefore returns deep copies of every turn preceding turnID, for
// history reconstruction. An empty turnID returns the whole ledger.
func (l *Ledger) TurnsBefore(sessionID, turnID string) ([]*models.Turn, error) {
	var (
		out []*models.Turn
		err error
	)
	l.call(func() {
		se, ok := l.byID[sessionID]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		for _, t := range se.Turns {
			if t.ID == turnID {
				return
			}
			out = append(out, t.Clone())
		}
		if turnID != "" {
			out = nil
			err = ErrTurnNotFound
		}
	})
	return out, err
}

// UpdateCandidateContent merges a cumulative text snapshot into one
// candidate. Fire-and-forget: a missing session or turn means the target
// was deleted mid-stream and the update is dropped.
func (l *Ledger) UpdateCandidateContent(sessionID, turnID, modelID, content string) {
	l.sendEvent(candidateEvent{sessionID: sessionID, turnID: turnID, modelID: modelID, content: &content})
}

// UpdateCandidateStatus advances one candidate's status. Backward
// transitions are ignored, keeping the lifecycle monotonic no matter how
// late an event lands.
func (l *Ledger) UpdateCandidateStatus(sessionID, turnID, modelID string, status models.CandidateStatus) {
	l.sendEvent(candidateEvent{sessionID: sessionID, turnID: turnID, modelID: modelID, status: &status})
}

// ResetCandidate returns a candidate to pending with empty text, starting a
// fresh lifecycle for a regeneration.
func (l *Ledger) ResetCandidate(sessionID, turnID, modelID string) {
	l.sendEvent(candidateEvent{sessionID: sessionID, turnID: turnID, modelID: modelID, reset: true})
}

func (l *Ledger) sendEvent(ev candidateEvent) {
	select {
	case l.eventCh <- ev:
	case <-l.stopCh:
	}
}

func (l *Ledger) applyEvent(ev candidateEvent) {
	se, ok := l.byID[ev.sessionID]
	if !ok {
		return // session deleted mid-stream, drop silently
	}
	turn := se.Turn(ev.turnID)
	if turn == nil {
		return
	}
	cand := turn.Candidate(ev.modelID)
	if cand == nil {
		return
	}
	if ev.reset {
		cand.Content = ""
		cand.Status = models.StatusPending
		return
	}
	if ev.content != nil {
		cand.Content = *ev.content
	}
	if ev.status != nil && cand.Status.CanAdvanceTo(*ev.status) {
		cand.Status = *ev.status
		se.UpdatedAt = time.Now().UTC()
	}
}

// Barrier waits until every event sent before the call has been applied.
func (l *Ledger) Barrier() {
	l.call(func() {})
}

// SetNextContext replaces the continuing-context set of the last turn.
// Calls against any other turn are a no-op: settled turns never change
// their participant set retroactively.
func (l *Ledger) SetNextContext(sessionID, turnID string, modelIDs []string) error {
	var err error
	l.call(func() {
		se, ok := l.byID[sessionID]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		last := se.LastTurn()
		if last == nil || last.ID != turnID {
			return
		}
		for _, id := range modelIDs {
			if !l.reg.Has(id) {
				err = fmt.Errorf("%w: %s", ErrUnknownModel, id)
				return
			}
		}
		last.NextContextIDs = append([]string(nil), modelIDs...)
		l.persistLocked()
	})
	return err
}

// SetFeedback records the tri-state feedback on one candidate.
func (l *Ledger) SetFeedback(sessionID, turnID, modelID string, value models.Feedback) error {
	var err error
	l.call(func() {
		se, ok := l.byID[sessionID]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		turn := se.Turn(turnID)
		if turn == nil {
			err = ErrTurnNotFound
			return
		}
		cand := turn.Candidate(modelID)
		if cand == nil {
			err = fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
			return
		}
		cand.Feedback = value
		l.persistLocked()
	})
	return err
}

// --- selection tracking ---

// ActiveSet returns the models that will receive the next prompt: the last
// turn's continuing-context set, or the pre-session default while the
// ledger is empty. An empty sessionID addresses the default directly.
func (l *Ledger) ActiveSet(sessionID string) []string {
	var out []string
	l.call(func() {
		out = l.activeSetLocked(sessionID)
	})
	return out
}

func (l *Ledger) activeSetLocked(sessionID string) []string {
	if sessionID != "" {
		if se, ok := l.byID[sessionID]; ok {
			if last := se.LastTurn(); last != nil {
				return append([]string(nil), last.NextContextIDs...)
			}
		}
	}
	return append([]string(nil), l.defaultActive...)
}

// ToggleParticipation flips one model's membership in a turn's
// continuing-context set. Only models that actually have a candidate in
// the turn can be toggled here. Blocked while the turn is the one being
// generated.
func (l *Ledger) ToggleParticipation(sessionID, turnID, modelID string) error {
	var err error
	l.call(func() {
		se, ok := l.byID[sessionID]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		turn := se.Turn(turnID)
		if turn == nil {
			err = ErrTurnNotFound
			return
		}
		if turn.Candidate(modelID) == nil {
			err = fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
			return
		}
		if l.generating[sessionID] == turnID {
			err = ErrGenerating
			return
		}
		turn.NextContextIDs = toggle(turn.NextContextIDs, modelID)
		l.persistLocked()
	})
	return err
}

// ToggleActive flips one model's membership in the active set. With a
// non-empty ledger the flip lands on the last turn's continuing-context
// set, which the active set is a projection of; a model absent from that
// turn's candidates may still be added, re-engaging it for the next
// prompt. Blocked while the last turn is generating.
func (l *Ledger) ToggleActive(sessionID, modelID string) ([]string, error) {
	var (
		out []string
		err error
	)
	l.call(func() {
		if !l.reg.Has(modelID) {
			err = fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
			return
		}
		if sessionID == "" {
			l.defaultActive = toggle(l.defaultActive, modelID)
			out = append([]string(nil), l.defaultActive...)
			return
		}
		se, ok := l.byID[sessionID]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		last := se.LastTurn()
		if last == nil {
			l.defaultActive = toggle(l.defaultActive, modelID)
			out = append([]string(nil), l.defaultActive...)
			return
		}
		if l.generating[sessionID] == last.ID {
			err = ErrGenerating
			return
		}
		last.NextContextIDs = toggle(last.NextContextIDs, modelID)
		out = append([]string(nil), last.NextContextIDs...)
		l.persistLocked()
	})
	return out, err
}

func toggle(ids []string, modelID string) []string {
	for i, id := range ids {
		if id == modelID {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return append(ids, modelID)
}

// --- generation bookkeeping ---

// BeginGeneration marks a turn as the in-flight fan-out target, blocking
// context toggles against it and further sends on the session.
func (l *Ledger) BeginGeneration(sessionID, turnID string) {
	l.call(func() {
		l.generating[sessionID] = turnID
	})
}

// EndGeneration clears the in-flight mark once every task settled, then
// persists.
func (l *Ledger) EndGeneration(sessionID string) {
	l.call(func() {
		delete(l.generating, sessionID)
		l.persistLocked()
	})
}

// Generating reports whether the session has an in-flight fan-out.
func (l *Ledger) Generating(sessionID string) bool {
	var out bool
	l.call(func() {
		_, out = l.generating[sessionID]
	})
	return out
}

// Persist saves the current ledger explicitly.
func (l *Ledger) Persist() {
	l.call(func() {
		l.persistLocked()
	})
}

// persistLocked snapshots all sessions and hands them to the store.
// Best-effort: a failed save is logged, never surfaced.
func (l *Ledger) persistLocked() {
	if l.store == nil {
		return
	}
	snapshot := make([]*models.Session, 0, len(l.sessions))
	for _, se := range l.sessions {
		snapshot = append(snapshot, se.Clone())
	}
	if err := l.store.SaveAll(context.Background(), snapshot); err != nil {
		log.Printf("persist sessions failed: %v", err)
	}
}

// TruncateTitle clips prompt text to the session title length.
func TruncateTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= titleMaxRunes {
		return text
	}
	return string(runes[:titleMaxRunes]) + "…"
}
