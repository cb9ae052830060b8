package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/Conductor/internal/domain"
	"github.com/shaiso/Conductor/internal/orchestrator"
)

// PostCallback принимает webhook провайдера.
// POST /api/v1/callbacks
//
// Повторная доставка того же callback безопасна: оркестратор
// дедуплицирует по (task_id, job_id, status) и отвечает 200.
func (h *Handler) PostCallback(w http.ResponseWriter, r *http.Request) {
	var body CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if body.TaskID == (uuid.UUID{}) {
		BadRequest(w, "task_id is required")
		return
	}
	if body.JobID == "" {
		BadRequest(w, "job_id is required")
		return
	}

	actor := body.Actor
	if actor == "" {
		actor = "provider"
	}

	err := h.orc.HandleCallback(r.Context(), orchestrator.Callback{
		TaskID:        body.TaskID,
		ExternalJobID: body.JobID,
		Status:        domain.TaskStatus(body.Status),
		OutputURL:     body.OutputURL,
		Output:        body.Output,
		ErrorCode:     body.ErrorCode,
		ErrorMessage:  body.ErrorMessage,
		ProviderData:  body.ProviderData,
		CostCents:     body.CostCents,
		Actor:         actor,
	})
	if HandleOrchestratorError(w, h.logger, err, "task not found") {
		return
	}

	Success(w, map[string]any{"accepted": true})
}
