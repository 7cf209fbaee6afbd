package models

import "time"

// CandidateStatus is the lifecycle of a single model's response. Transitions
// only run forward: pending -> streaming -> complete|error.
type CandidateStatus string

const (
	StatusPending   CandidateStatus = "pending"
	StatusStreaming CandidateStatus = "streaming"
	StatusComplete  CandidateStatus = "complete"
	StatusError     CandidateStatus = "error"
)

// Terminal reports whether the status is a settled end state.
func (s CandidateStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// rank orders statuses along the forward-only lifecycle.
func (s CandidateStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusStreaming:
		return 1
	case StatusComplete, StatusError:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s CandidateStatus) CanAdvanceTo(next CandidateStatus) bool {
	return next.rank() > s.rank()
}

type Feedback string

const (
	FeedbackNone    Feedback = "none"
	FeedbackLike    Feedback = "like"
	FeedbackDislike Feedback = "dislike"
)

// Candidate is one model's response record within a turn. Owned by its
// parent turn; only the task responsible for its model id mutates it.
type Candidate struct {
	ModelID  string          `json:"model_id"`
	Content  string          `json:"content"`
	Status   CandidateStatus `json:"status"`
	Feedback Feedback        `json:"feedback"`
}

// Turn is one user prompt plus the model responses it fanned out to.
// The candidate key set is fixed at creation; NextContextIDs and the
// candidates' content/status/feedback are the only mutable fields.
type Turn struct {
	ID             string                `json:"id"`
	CreatedAt      time.Time             `json:"created_at"`
	UserMessage    Message               `json:"user_message"`
	Candidates     map[string]*Candidate `json:"candidates"`
	NextContextIDs []string              `json:"next_context_model_ids"`
}

// Candidate returns the candidate for the model id, or nil.
func (t *Turn) Candidate(modelID string) *Candidate {
	if t == nil {
		return nil
	}
	return t.Candidates[modelID]
}

// HasNextContext reports membership in the turn's continuing-context set.
func (t *Turn) HasNextContext(modelID string) bool {
	for _, id := range t.NextContextIDs {
		if id == modelID {
			return true
		}
	}
	return false
}

// Settled reports whether every candidate reached a terminal status.
func (t *Turn) Settled() bool {
	for _, c := range t.Candidates {
		if !c.Status.Terminal() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the turn.
func (t *Turn) Clone() *Turn {
	if t == nil {
		return nil
	}
	out := *t
	out.UserMessage = t.UserMessage.Clone()
	out.Candidates = make(map[string]*Candidate, len(t.Candidates))
	for id, c := range t.Candidates {
		cc := *c
		out.Candidates[id] = &cc
	}
	out.NextContextIDs = append([]string(nil), t.NextContextIDs...)
	return &out
}
