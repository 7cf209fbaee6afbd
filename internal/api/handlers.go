package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"modelarena/internal/ledger"
	"modelarena/internal/models"
	"modelarena/internal/registry"
	"modelarena/internal/worker"
)

type Orchestrator interface {
	Send(worker.SendRequest) (*worker.SendResult, error)
	Regenerate(worker.RegenerateRequest) error
	SetFeedback(sessionID, turnID, modelID string, value models.Feedback) error
	Generating(sessionID string) bool
}

// Handler wires HTTP routes to the turn ledger and the fan-out workers.
type Handler struct {
	ledger  *ledger.Ledger
	reg     *registry.Registry
	workers Orchestrator
}

// NewHandler constructs a Handler instance.
func NewHandler(ld *ledger.Ledger, reg *registry.Registry, workers Orchestrator) *Handler {
	return &Handler{ledger: ld, reg: reg, workers: workers}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/models", h.listModels)
	api.GET("/models/active", h.defaultActiveModels)
	api.POST("/models/:model_id/toggle", h.toggleDefaultActive)
	api.GET("/sessions", h.listSessions)
	api.GET("/sessions/:session_id", h.getSession)
	api.DELETE("/sessions/:session_id", h.deleteSession)
	api.PUT("/sessions/:session_id/title", h.renameSession)
	api.GET("/sessions/:session_id/models", h.activeModels)
	api.POST("/sessions/:session_id/models/:model_id/toggle", h.toggleActive)
	api.POST("/sessions/:session_id/turns/:turn_id/models/:model_id/toggle", h.toggleParticipation)
	api.POST("/chat/send", h.sendMessage)
	api.POST("/chat/regenerate", h.regenerate)
	api.POST("/feedback", h.setFeedback)
}

func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrSessionNotFound), errors.Is(err, ledger.ErrTurnNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrGenerating), errors.Is(err, worker.ErrBusy), errors.Is(err, worker.ErrRegenerateInFlight):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) listModels(c *gin.Context) {
	entries := h.reg.Entries()
	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"id":          e.ID,
			"name":        e.Name,
			"provider":    e.Provider,
			"description": e.Description,
			"web_search":  e.WebSearch,
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

func (h *Handler) defaultActiveModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"active_model_ids": h.ledger.ActiveSet("")})
}

func (h *Handler) toggleDefaultActive(c *gin.Context) {
	ids, err := h.ledger.ToggleActive("", c.Param("model_id"))
	if err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_model_ids": ids})
}

func (h *Handler) listSessions(c *gin.Context) {
	seList := h.ledger.Sessions()
	out := make([]gin.H, 0, len(seList))
	for _, se := range seList {
		out = append(out, gin.H{
			"id":         se.ID,
			"title":      se.Title,
			"turns":      len(se.Turns),
			"created_at": se.CreatedAt,
			"updated_at": se.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"session_list": out})
}

func (h *Handler) getSession(c *gin.Context) {
	se, err := h.ledger.Session(c.Param("session_id"))
	if err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": se})
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.ledger.DeleteSession(c.Param("session_id")); err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) renameSession(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	if err := h.ledger.RenameSession(c.Param("session_id"), title); err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) activeModels(c *gin.Context) {
	sessionID := c.Param("session_id")
	if _, err := h.ledger.Session(sessionID); err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_model_ids": h.ledger.ActiveSet(sessionID)})
}

func (h *Handler) toggleActive(c *gin.Context) {
	ids, err := h.ledger.ToggleActive(c.Param("session_id"), c.Param("model_id"))
	if err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_model_ids": ids})
}

func (h *Handler) toggleParticipation(c *gin.Context) {
	sessionID := c.Param("session_id")
	turnID := c.Param("turn_id")
	if err := h.ledger.ToggleParticipation(sessionID, turnID, c.Param("model_id")); err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	se, err := h.ledger.Session(sessionID)
	if err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	turn := se.Turn(turnID)
	if turn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "turn not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"next_context_model_ids": turn.NextContextIDs})
}

type sendRequest struct {
	SessionID   string              `json:"session_id"`
	Content     string              `json:"content"`
	Attachments []models.Attachment `json:"attachments"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	// pre-flight checks keep failures as plain JSON, before the SSE
	// stream begins
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content or attachments required"})
		return
	}
	if req.SessionID != "" {
		if _, err := h.ledger.Session(req.SessionID); err != nil {
			c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
			return
		}
		if h.workers.Generating(req.SessionID) {
			c.JSON(http.StatusConflict, gin.H{"error": "session is still generating"})
			return
		}
	}
	if len(h.ledger.ActiveSet(req.SessionID)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one model must be active"})
		return
	}

	sendEvent, ok := sseWriter(c)
	if !ok {
		return
	}

	res, err := h.workers.Send(worker.SendRequest{
		Context:     c.Request.Context(),
		SessionID:   req.SessionID,
		Content:     req.Content,
		Attachments: req.Attachments,
		OnAccepted: func(sessionID string, turn *models.Turn) {
			_ = sendEvent("ack", gin.H{
				"session_id": sessionID,
				"turn_id":    turn.ID,
				"turn":       turn,
			})
		},
		OnEvent: func(ev worker.Event) error {
			return forwardEvent(sendEvent, ev)
		},
	})
	if err != nil {
		_ = sendEvent("error", gin.H{"message": err.Error()})
		return
	}
	turn := res.Session.Turn(res.TurnID)
	_ = sendEvent("done", gin.H{
		"session_id": res.Session.ID,
		"title":      res.Session.Title,
		"turn":       turn,
	})
}

type regenerateRequest struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
	ModelID   string `json:"model_id"`
}

func (h *Handler) regenerate(c *gin.Context) {
	var req regenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	se, err := h.ledger.Session(req.SessionID)
	if err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	turn := se.Turn(req.TurnID)
	if turn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "turn not found"})
		return
	}
	if turn.Candidate(req.ModelID) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model did not participate in this turn"})
		return
	}

	sendEvent, ok := sseWriter(c)
	if !ok {
		return
	}

	err = h.workers.Regenerate(worker.RegenerateRequest{
		Context:   c.Request.Context(),
		SessionID: req.SessionID,
		TurnID:    req.TurnID,
		ModelID:   req.ModelID,
		OnEvent: func(ev worker.Event) error {
			return forwardEvent(sendEvent, ev)
		},
	})
	if err != nil {
		_ = sendEvent("error", gin.H{"message": err.Error()})
		return
	}
	se, err = h.ledger.Session(req.SessionID)
	if err != nil {
		_ = sendEvent("error", gin.H{"message": err.Error()})
		return
	}
	var cand *models.Candidate
	if t := se.Turn(req.TurnID); t != nil {
		cand = t.Candidate(req.ModelID)
	}
	_ = sendEvent("done", gin.H{
		"session_id": req.SessionID,
		"turn_id":    req.TurnID,
		"model_id":   req.ModelID,
		"candidate":  cand,
	})
}

type feedbackRequest struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
	ModelID   string `json:"model_id"`
	Value     string `json:"value"`
}

func (h *Handler) setFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.workers.SetFeedback(req.SessionID, req.TurnID, req.ModelID, models.Feedback(req.Value)); err != nil {
		c.JSON(httpStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// sseWriter switches the response to a text/event-stream and returns the
// frame writer. Worker events arrive serialized, so no extra locking here.
func sseWriter(c *gin.Context) (func(event string, payload interface{}) error, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return nil, false
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	return func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}, true
}

func forwardEvent(sendEvent func(string, interface{}) error, ev worker.Event) error {
	switch ev.Type {
	case worker.EventChunk:
		return sendEvent("stream", gin.H{
			"session_id": ev.SessionID,
			"turn_id":    ev.TurnID,
			"model_id":   ev.ModelID,
			"content":    ev.Content,
		})
	case worker.EventStatus:
		return sendEvent("status", gin.H{
			"session_id": ev.SessionID,
			"turn_id":    ev.TurnID,
			"model_id":   ev.ModelID,
			"status":     ev.Status,
		})
	default:
		return nil
	}
}
