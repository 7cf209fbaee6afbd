// Package worker runs the streaming fan-out: one prompt dispatched to every
// active model at once, each stream merged back into the turn ledger as
// per-candidate events, with a settle-all barrier before the next send.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"modelarena/internal/history"
	"modelarena/internal/ledger"
	"modelarena/internal/models"
	"modelarena/internal/redis"
	"modelarena/internal/service/ai"
)

var (
	ErrEmptyPrompt        = errors.New("prompt text or attachments required")
	ErrNoActiveModels     = errors.New("at least one model must be active")
	ErrBusy               = errors.New("session is still generating")
	ErrRegenerateInFlight = errors.New("candidate is already regenerating")
)

// BackendFactory resolves the streaming backend for a model id.
type BackendFactory func(modelID string) (ai.Backend, error)

type SendRequest struct {
	Context     context.Context
	SessionID   string // empty to start a new session
	Content     string
	Attachments []models.Attachment
	// OnAccepted fires once the turn is appended, before any model starts
	// streaming.
	OnAccepted func(sessionID string, turn *models.Turn)
	OnEvent    func(Event) error
}

type RegenerateRequest struct {
	Context   context.Context
	SessionID string
	TurnID    string
	ModelID   string
	OnEvent   func(Event) error
}

type SendResult struct {
	Session *models.Session
	TurnID  string
}

// Manager orchestrates sends and regenerations against the ledger.
type Manager struct {
	ledger   *ledger.Ledger
	backends BackendFactory
	mirror   *eventMirror

	mu       sync.Mutex
	sending  map[string]struct{} // session ids with a send in flight
	inflight map[string]struct{} // sessionID/turnID/modelID task keys
}

// NewManager builds the orchestrator. cacheClient may be nil; the mirror
// is then disabled.
func NewManager(ld *ledger.Ledger, backends BackendFactory, cacheClient *redis.Client) *Manager {
	return &Manager{
		ledger:   ld,
		backends: backends,
		mirror:   newEventMirror(cacheClient),
		sending:  make(map[string]struct{}),
		inflight: make(map[string]struct{}),
	}
}

// Send fans one prompt out to every active model of the session. It blocks
// until every model task settled (complete or error) and only then returns
// the final turn state. A second send on the same session while one is in
// flight is rejected; an empty active set is rejected before any mutation.
func (m *Manager) Send(req SendRequest) (*SendResult, error) {
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		return nil, ErrEmptyPrompt
	}
	for _, att := range req.Attachments {
		if att.Kind != models.AttachmentImage && att.Kind != models.AttachmentVideo {
			return nil, fmt.Errorf("unsupported attachment kind %q", att.Kind)
		}
	}

	active := m.ledger.ActiveSet(req.SessionID)
	if len(active) == 0 {
		return nil, ErrNoActiveModels
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = m.ledger.CreateSession(req.Content).ID
	} else if _, err := m.ledger.Session(sessionID); err != nil {
		return nil, err
	}

	if !m.acquireSend(sessionID) {
		return nil, ErrBusy
	}
	defer m.releaseSend(sessionID)

	userMessage := models.Message{
		Role:        models.RoleUser,
		Content:     req.Content,
		Attachments: req.Attachments,
		CreatedAt:   time.Now().UTC(),
	}
	turn, err := m.ledger.AppendTurn(sessionID, userMessage, active)
	if err != nil {
		return nil, err
	}
	if req.OnAccepted != nil {
		req.OnAccepted(sessionID, turn)
	}
	m.ledger.BeginGeneration(sessionID, turn.ID)
	defer m.ledger.EndGeneration(sessionID)

	prior, err := m.ledger.TurnsBefore(sessionID, turn.ID)
	if err != nil {
		return nil, err
	}

	em := newEmitter(req.OnEvent, m.mirror)
	var wg sync.WaitGroup
	for _, modelID := range active {
		key := taskKey(sessionID, turn.ID, modelID)
		m.acquireTask(key)
		wg.Add(1)
		go func(modelID, key string) {
			defer wg.Done()
			defer m.releaseTask(key)
			m.runTask(ctx, em, sessionID, turn, prior, modelID)
		}(modelID, key)
	}
	// settle-all barrier: the generating flag only clears once every
	// participant reported a terminal status
	wg.Wait()

	se, err := m.ledger.Session(sessionID)
	if err != nil {
		// session deleted while generating; late updates were dropped
		return nil, err
	}
	return &SendResult{Session: se, TurnID: turn.ID}, nil
}

// Regenerate reruns a single existing candidate in place. The turn's
// continuing-context set and sibling candidates are untouched. Rejected
// while the same (turn, model) pair is already streaming, whether from a
// send or an earlier regenerate; unrelated sends may proceed concurrently.
func (m *Manager) Regenerate(req RegenerateRequest) error {
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}
	se, err := m.ledger.Session(req.SessionID)
	if err != nil {
		return err
	}
	turn := se.Turn(req.TurnID)
	if turn == nil {
		return ledger.ErrTurnNotFound
	}
	if turn.Candidate(req.ModelID) == nil {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownModel, req.ModelID)
	}

	key := taskKey(req.SessionID, req.TurnID, req.ModelID)
	if !m.tryAcquireTask(key) {
		return ErrRegenerateInFlight
	}
	defer m.releaseTask(key)

	prior, err := m.ledger.TurnsBefore(req.SessionID, req.TurnID)
	if err != nil {
		return err
	}

	em := newEmitter(req.OnEvent, m.mirror)
	m.ledger.ResetCandidate(req.SessionID, req.TurnID, req.ModelID)
	em.send(Event{Type: EventStatus, SessionID: req.SessionID, TurnID: req.TurnID, ModelID: req.ModelID, Status: models.StatusPending})

	m.runTask(ctx, em, req.SessionID, turn, prior, req.ModelID)
	m.ledger.Persist()
	return nil
}

// SetFeedback records like/dislike/none on one candidate.
func (m *Manager) SetFeedback(sessionID, turnID, modelID string, value models.Feedback) error {
	switch value {
	case models.FeedbackNone, models.FeedbackLike, models.FeedbackDislike:
	default:
		return fmt.Errorf("invalid feedback value %q", value)
	}
	return m.ledger.SetFeedback(sessionID, turnID, modelID, value)
}

// Generating reports whether the session has an in-flight fan-out.
func (m *Manager) Generating(sessionID string) bool {
	return m.ledger.Generating(sessionID)
}

// runTask streams one model's response and merges it into the ledger.
// Failures stay inside the task: the candidate is marked error and the
// siblings never notice.
func (m *Manager) runTask(ctx context.Context, em *emitter, sessionID string, turn *models.Turn, prior []*models.Turn, modelID string) {
	backend, err := m.backends(modelID)
	if err != nil {
		debugLog("[worker] backend %s unavailable: %v", modelID, err)
		m.setStatus(em, sessionID, turn.ID, modelID, models.StatusError)
		return
	}

	m.setStatus(em, sessionID, turn.ID, modelID, models.StatusStreaming)

	hist := history.Reconstruct(modelID, prior)
	_, err = backend.Stream(ctx, hist, turn.UserMessage, func(cumulative string) error {
		m.ledger.UpdateCandidateContent(sessionID, turn.ID, modelID, cumulative)
		em.send(Event{
			Type:      EventChunk,
			SessionID: sessionID,
			TurnID:    turn.ID,
			ModelID:   modelID,
			Content:   cumulative,
		})
		return nil
	})
	if err != nil {
		debugLog("[worker] stream %s/%s failed: %v", turn.ID, modelID, err)
		m.setStatus(em, sessionID, turn.ID, modelID, models.StatusError)
		return
	}
	m.setStatus(em, sessionID, turn.ID, modelID, models.StatusComplete)
}

func (m *Manager) setStatus(em *emitter, sessionID, turnID, modelID string, status models.CandidateStatus) {
	m.ledger.UpdateCandidateStatus(sessionID, turnID, modelID, status)
	em.send(Event{Type: EventStatus, SessionID: sessionID, TurnID: turnID, ModelID: modelID, Status: status})
}

func taskKey(sessionID, turnID, modelID string) string {
	return sessionID + "/" + turnID + "/" + modelID
}

func (m *Manager) acquireSend(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.sending[sessionID]; busy {
		return false
	}
	m.sending[sessionID] = struct{}{}
	return true
}

func (m *Manager) releaseSend(sessionID string) {
	m.mu.Lock()
	delete(m.sending, sessionID)
	m.mu.Unlock()
}

func (m *Manager) acquireTask(key string) {
	m.mu.Lock()
	m.inflight[key] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) tryAcquireTask(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[key]; busy {
		return false
	}
	m.inflight[key] = struct{}{}
	return true
}

func (m *Manager) releaseTask(key string) {
	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()
}

// emitter serializes event delivery to a single subscriber. Once the
// subscriber errors (client disconnected) further deliveries are skipped;
// the generation itself runs to completion regardless.
type emitter struct {
	mu     sync.Mutex
	fn     func(Event) error
	failed bool
	mirror *eventMirror
}

func newEmitter(fn func(Event) error, mirror *eventMirror) *emitter {
	return &emitter{fn: fn, mirror: mirror}
}

func (e *emitter) send(ev Event) {
	e.mirror.publish(ev)
	if e.fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed {
		return
	}
	if err := e.fn(ev); err != nil {
		debugLog("[worker] event subscriber dropped: %v", err)
		e.failed = true
	}
}
