package handlers

import (
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/chatsync/internal/orchestrator"
)

// maxCachedAttempts bounds how many failed sends are kept for resuming.
const maxCachedAttempts = 1024

// SendRequest represents the send message request body.
type SendRequest struct {
	To     string `json:"to" validate:"required,email,max=254"`
	ToName string `json:"to_name,omitempty"`
	Text   string `json:"text" validate:"required,max=4096"`
}

// StepResponse reports one write of a send.
type StepResponse struct {
	Step     string `json:"step"`
	Done     bool   `json:"done"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// SendResponse reports the outcome of a send attempt.
type SendResponse struct {
	AttemptID      string         `json:"attempt_id"`
	State          string         `json:"state"`
	ConversationID string         `json:"conversation_id,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	FailedStep     string         `json:"failed_step,omitempty"`
	Steps          []StepResponse `json:"steps"`
}

func sendResponse(a *orchestrator.Attempt) SendResponse {
	resp := SendResponse{
		AttemptID:      a.ID,
		State:          string(a.State),
		ConversationID: a.ConversationID,
		MessageID:      a.Message.MessageID,
		Steps:          make([]StepResponse, 0, len(a.Steps)),
	}
	if step, failed := a.FailedStep(); failed {
		resp.FailedStep = string(step)
	}
	for _, s := range a.Steps {
		sr := StepResponse{Step: string(s.Step), Done: s.Done, Attempts: s.Attempts}
		if s.Err != nil {
			sr.Error = http.StatusText(StatusFor(s.Err))
		}
		resp.Steps = append(resp.Steps, sr)
	}
	return resp
}

// SendMessage handles sending a message from the session user. A send that
// fails part way returns 502 with the per-step results; the attempt can be
// resumed with ResumeAttempt.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SendRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.orchestrator.Send(r.Context(), s, orchestrator.Peer{Email: req.To, DisplayName: req.ToName}, req.Text)
	var sendErr *orchestrator.SendError
	switch {
	case err == nil:
		h.JSON(w, http.StatusCreated, sendResponse(a))
	case errors.As(err, &sendErr):
		h.attempts.put(a)
		h.JSON(w, http.StatusBadGateway, sendResponse(a))
	default:
		h.fail(w, r, err)
	}
}

// ResumeAttempt retries the failed steps of a send made by the session user.
func (h *Handler) ResumeAttempt(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	a := h.attempts.take(chi.URLParam(r, "id"))
	if a == nil {
		h.Error(w, http.StatusNotFound, "attempt not found")
		return
	}
	if a.Sender.Email != s.Email {
		h.attempts.put(a)
		h.Error(w, http.StatusNotFound, "attempt not found")
		return
	}

	if err := h.orchestrator.Resume(r.Context(), a); err != nil {
		h.attempts.put(a)
		var sendErr *orchestrator.SendError
		if errors.As(err, &sendErr) {
			h.JSON(w, http.StatusBadGateway, sendResponse(a))
			return
		}
		h.fail(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, sendResponse(a))
}

// attemptCache keeps failed attempts so clients can resume them. The
// oldest attempt is evicted once the cache is full.
type attemptCache struct {
	mu    sync.Mutex
	max   int
	order []string
	items map[string]*orchestrator.Attempt
}

func newAttemptCache(max int) *attemptCache {
	return &attemptCache{max: max, items: make(map[string]*orchestrator.Attempt)}
}

func (c *attemptCache) put(a *orchestrator.Attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[a.ID]; ok {
		return
	}
	for len(c.order) >= c.max {
		delete(c.items, c.order[0])
		c.order = c.order[1:]
	}
	c.items[a.ID] = a
	c.order = append(c.order, a.ID)
}

// take removes and returns an attempt. An attempt being resumed is out of
// the cache, so it cannot be resumed twice at once.
func (c *attemptCache) take(id string) *orchestrator.Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.items[id]
	if !ok {
		return nil
	}
	delete(c.items, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return a
}
