package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// GetTask возвращает task по ID.
// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	task, err := h.taskRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	Success(w, TaskFromDomain(*task))
}

// RetryTask вручную повторяет упавший task.
// POST /api/v1/tasks/{id}/retry
func (h *Handler) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	var body RetryTaskRequest
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

	if err := h.orc.RetryTask(r.Context(), id, actor); err != nil {
		if HandleOrchestratorError(w, h.logger, err, "task not found") {
			return
		}
	}

	task, err := h.taskRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	Success(w, TaskFromDomain(*task))
}

// ListTaskDispatches возвращает записи об отправках task провайдерам.
// GET /api/v1/tasks/{id}/dispatches
func (h *Handler) ListTaskDispatches(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	_, err = h.taskRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	records, err := h.dispatchRepo.ListByTask(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]DispatchResponse, len(records))
	for i, rec := range records {
		result[i] = DispatchFromDomain(rec)
	}

	List(w, result, len(result))
}
