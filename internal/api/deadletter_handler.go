package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// ListDeadLetters возвращает необработанные dead letters.
// GET /api/v1/dead-letters?limit=...
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := int(mustParseInt(r.URL.Query().Get("limit"), 50))

	letters, err := h.deadLetterRepo.ListOpen(r.Context(), limit)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]DeadLetterResponse, len(letters))
	for i, dl := range letters {
		result[i] = DeadLetterFromDomain(dl)
	}

	List(w, result, len(result))
}

// RequeueDeadLetter возвращает task из dead letters в работу.
// POST /api/v1/dead-letters/{task_id}/requeue
func (h *Handler) RequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(r.PathValue("task_id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	var body RequeueRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			BadRequest(w, "invalid request body")
			return
		}
	}

	actor := body.Actor
	if actor == "" {
		actor = "api"
	}

	if err := h.orc.RequeueDeadLetter(r.Context(), taskID, actor); err != nil {
		if HandleOrchestratorError(w, h.logger, err, "task not found") {
			return
		}
	}

	task, err := h.taskRepo.GetByID(r.Context(), taskID)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	Success(w, TaskFromDomain(*task))
}
